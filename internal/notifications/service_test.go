package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ferry/internal/config"
	"ferry/internal/logging"
	"ferry/internal/notifications"
	"ferry/internal/pipeline"
	"ferry/internal/services"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventSystemError, notifications.Payload{"reason": "x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func captureServer(t *testing.T, out *captured, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		atomic.AddInt32(hits, 1)
		out.title = r.Header.Get("Title")
		out.tags = r.Header.Get("Tags")
		out.priority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		out.body = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "item failed",
			event: notifications.EventItemFailed,
			payload: notifications.Payload{
				"item":       "scan-001.zip",
				"identifier": "file-1",
				"stage":      "transmit",
				"reason":     "send failed after 2 attempts",
			},
			expectTitle:    "Ferry - Transmit Failed",
			expectMessage:  "❌ scan-001.zip: send failed after 2 attempts\nIdentifier: file-1",
			expectTags:     "ferry,item,failed",
			expectPriority: "high",
		},
		{
			name:           "system error",
			event:          notifications.EventSystemError,
			payload:        notifications.Payload{"reason": "destination unreachable"},
			expectTitle:    "Ferry - System Error",
			expectMessage:  "⚠️ destination unreachable",
			expectTags:     "ferry,error,alert",
			expectPriority: "high",
		},
		{
			name:  "cycle completed with errors",
			event: notifications.EventCycleCompleted,
			payload: notifications.Payload{
				"processed": 3,
				"succeeded": 2,
				"failed":    1,
				"duration":  90 * time.Second,
			},
			expectTitle:   "Ferry - Cycle Complete (with errors)",
			expectMessage: "3 processed, 2 succeeded, 1 failed in 1m30s",
			expectTags:    "ferry,cycle,completed",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Ferry - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "ferry,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got captured
			var hits int32
			server := captureServer(t, &got, &hits)

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.CycleSummary = true

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			if got.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got.body)
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
		})
	}
}

func TestNtfyServiceSuppressesDisabledEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Errors = false
	cfg.Notifications.CycleSummary = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{
		notifications.EventItemFailed,
		notifications.EventSystemError,
		notifications.EventCycleCompleted,
		notifications.Event("unknown"),
	} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"reason": "ignored"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic locked", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	if err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

type recordingService struct {
	events   []notifications.Event
	payloads []notifications.Payload
	err      error
}

func (r *recordingService) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.events = append(r.events, event)
	r.payloads = append(r.payloads, payload)
	return r.err
}

func TestNotifierUsesStageFromContext(t *testing.T) {
	rec := &recordingService{err: errors.New("offline")}
	n := notifications.NewNotifier(rec, logging.NewNop())

	ctx := services.WithStage(context.Background(), "transform")
	n.ItemFailed(ctx, pipeline.WorkItem{ID: "id-1", Name: "scan.zip"}, "no files available to send")
	n.SystemError(ctx, "destination unreachable")

	if len(rec.events) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(rec.events))
	}
	if rec.events[0] != notifications.EventItemFailed || rec.payloads[0]["stage"] != "transform" {
		t.Fatalf("unexpected item failure payload: %v %v", rec.events[0], rec.payloads[0])
	}
	if rec.payloads[0]["item"] != "scan.zip" {
		t.Fatalf("expected item label, got %v", rec.payloads[0]["item"])
	}
	if rec.events[1] != notifications.EventSystemError {
		t.Fatalf("unexpected second event %v", rec.events[1])
	}
}
