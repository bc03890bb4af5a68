package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ferry/internal/config"
)

const userAgent = "Ferry-Go/0.1.0"

// Event enumerates the notification kinds Ferry emits.
type Event string

const (
	EventItemFailed     Event = "item_failed"
	EventSystemError    Event = "system_error"
	EventCycleCompleted Event = "cycle_completed"
	EventTest           Event = "test"
)

// Payload carries event-specific values keyed by name.
type Payload map[string]any

// Service publishes events to the configured transport.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		errors:       cfg.Notifications.Errors,
		cycleSummary: cfg.Notifications.CycleSummary,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	errors       bool
	cycleSummary bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	msg, ok := n.render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) render(event Event, payload Payload) (message, bool) {
	switch event {
	case EventItemFailed:
		if !n.errors {
			return message{}, false
		}
		stage := payload.text("stage")
		title := "Ferry - Item Failed"
		if stage != "" {
			title = fmt.Sprintf("Ferry - %s Failed", stageLabel(stage))
		}
		body := fmt.Sprintf("❌ %s: %s", payload.text("item"), payload.text("reason"))
		if id := payload.text("identifier"); id != "" && id != payload.text("item") {
			body = fmt.Sprintf("%s\nIdentifier: %s", body, id)
		}
		return message{
			title:    title,
			body:     body,
			tags:     []string{"ferry", "item", "failed"},
			priority: "high",
		}, true
	case EventSystemError:
		if !n.errors {
			return message{}, false
		}
		return message{
			title:    "Ferry - System Error",
			body:     fmt.Sprintf("⚠️ %s", payload.text("reason")),
			tags:     []string{"ferry", "error", "alert"},
			priority: "high",
		}, true
	case EventCycleCompleted:
		if !n.cycleSummary {
			return message{}, false
		}
		failed := payload.count("failed")
		title := "Ferry - Cycle Complete"
		if failed > 0 {
			title = "Ferry - Cycle Complete (with errors)"
		}
		return message{
			title: title,
			body: fmt.Sprintf("%d processed, %d succeeded, %d failed in %s",
				payload.count("processed"), payload.count("succeeded"), failed, formatDuration(payload.elapsed("duration"))),
			tags: []string{"ferry", "cycle", "completed"},
		}, true
	case EventTest:
		return message{
			title:    "Ferry - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"ferry", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

var titleCaser = cases.Title(language.English)

func stageLabel(stage string) string {
	return titleCaser.String(strings.ReplaceAll(strings.TrimSpace(stage), "_", " "))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}

func (p Payload) count(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func (p Payload) elapsed(key string) time.Duration {
	if p == nil {
		return 0
	}
	if v, ok := p[key].(time.Duration); ok {
		return v
	}
	return 0
}
