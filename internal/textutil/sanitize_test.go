package textutil

import "testing"

func TestSanitizeSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"scan-1", "scan-1"},
		{"  study 42 ", "study_42"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"..", "item"},
		{"", "item"},
		{"ümlaut", "_mlaut"},
	}
	for _, tt := range tests {
		if got := SanitizeSegment(tt.in, "item"); got != tt.want {
			t.Errorf("SanitizeSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
