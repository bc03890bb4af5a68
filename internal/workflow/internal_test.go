package workflow

import (
	"sync"
	"testing"
)

func TestSummarizeRefs(t *testing.T) {
	tests := []struct {
		refs []string
		want string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b", "c"}, "a, b, c"},
		{[]string{"a", "b", "c", "d", "e"}, "a, b, c ... and 2 more"},
	}
	for _, tt := range tests {
		if got := summarizeRefs(tt.refs); got != tt.want {
			t.Fatalf("summarizeRefs(%v) = %q, want %q", tt.refs, got, tt.want)
		}
	}
}

func TestKeyedMutexForgetsReleasedKeys(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for iter := 0; iter < 20; iter++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := k.lock("same")
			counter++
			release()
		}()
	}
	wg.Wait()
	if counter != 20 {
		t.Fatalf("expected 20 serialized increments, got %d", counter)
	}
	if k.size() != 0 {
		t.Fatalf("expected no retained keys, got %d", k.size())
	}
}
