package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"ferry/internal/dispatch"
	"ferry/internal/logging"
	"ferry/internal/pipeline"
	"ferry/internal/workflow"
)

// requiredFields must be present and non-empty in an upload notification.
var requiredFields = []string{"identifier", "filename", pipeline.MetaRowNumber}

// Notification is a decoded upload notification.
type Notification map[string]any

// field returns a scalar field as text; numbers keep their JSON form.
func (n Notification) field(key string) string {
	switch v := n[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func (n Notification) missing() []string {
	var out []string
	for _, key := range requiredFields {
		if n.field(key) == "" {
			out = append(out, key)
		}
	}
	return out
}

// WorkItem converts the notification. Every scalar field other than
// identifier and filename becomes metadata.
func (n Notification) WorkItem() pipeline.WorkItem {
	item := pipeline.WorkItem{
		ID:       n.field("identifier"),
		Name:     n.field("filename"),
		Metadata: make(map[string]string, len(n)),
	}
	for key := range n {
		if key == "identifier" || key == "filename" {
			continue
		}
		if value := n.field(key); value != "" {
			item.Metadata[key] = value
		}
	}
	return item
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   serviceName,
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]string{
			"status":           "ok",
			"message":          "webhook endpoint is operational",
			"service":          serviceName,
			"method_required":  http.MethodPost,
			"workflow_manager": s.readiness(),
			"timestamp":        s.timestamp(),
		})
		return
	case http.MethodPost:
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	payload, err := decodeNotification(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeBodyError(w, err)
			return
		}
		logging.WarnWithContext(s.log(), "malformed upload notification", "webhook_bad_payload",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "sender must post a JSON object"),
			logging.String(logging.FieldImpact, "notification ignored"),
		)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if missing := payload.missing(); len(missing) > 0 {
		logging.WarnWithContext(s.log(), "upload notification missing required fields", "webhook_missing_fields",
			logging.String("missing", strings.Join(missing, ",")),
			logging.String(logging.FieldErrorHint, "sender must include identifier, filename and row_number"),
			logging.String(logging.FieldImpact, "notification ignored"),
		)
		s.writeError(w, http.StatusBadRequest, "missing required fields: "+strings.Join(missing, ", "))
		return
	}

	dispatcher := s.currentDispatcher()
	if dispatcher == nil {
		logging.WarnWithContext(s.log(), "upload notification before engine is ready", "webhook_not_ready",
			logging.String(logging.FieldErrorHint, "wait for startup to finish"),
			logging.String(logging.FieldImpact, "sender must retry"),
		)
		s.writeError(w, http.StatusServiceUnavailable, "system not ready")
		return
	}

	item := payload.WorkItem()
	correlationID, err := dispatcher.Submit(item)
	if err != nil {
		status := http.StatusServiceUnavailable
		message := "dispatch unavailable"
		switch {
		case errors.Is(err, dispatch.ErrQueueFull):
			message = "dispatch queue full"
			w.Header().Set("Retry-After", "5")
		case errors.Is(err, dispatch.ErrClosed):
			message = "shutting down"
		}
		s.writeError(w, status, message)
		return
	}

	s.log().Info("upload notification accepted",
		logging.String(logging.FieldEventType, "webhook_accepted"),
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldCorrelationID, correlationID),
		logging.String("filename", item.Name),
		logging.String(pipeline.MetaRowNumber, item.Meta(pipeline.MetaRowNumber)),
		logging.Any("fields", payload.FieldNames()),
	)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":         "accepted",
		"message":        "upload notification received, processing started",
		"identifier":     item.ID,
		"correlation_id": correlationID,
		"timestamp":      s.timestamp(),
	})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var received any
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeBodyError(w, err)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &received); err != nil {
			s.writeError(w, http.StatusBadRequest, "request body is not valid JSON")
			return
		}
	}
	s.log().Info("webhook test request received", logging.Int("bytes", len(body)))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"message":       "webhook test successful",
		"received_data": received,
		"timestamp":     s.timestamp(),
	})
}

// StatusResponse is the body of GET /webhook/status.
type StatusResponse struct {
	WebhookServer   string                  `json:"webhook_server"`
	WorkflowManager string                  `json:"workflow_manager"`
	Timestamp       string                  `json:"timestamp"`
	Statistics      *workflow.StatsSnapshot `json:"statistics,omitempty"`
	Dispatch        *dispatch.Status        `json:"dispatch,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := StatusResponse{
		WebhookServer:   "running",
		WorkflowManager: s.readiness(),
		Timestamp:       s.timestamp(),
	}
	if s.stats != nil {
		snap := s.stats.Snapshot()
		resp.Statistics = &snap
	}
	if reporter, ok := s.currentDispatcher().(statusReporter); ok {
		st := reporter.Status()
		resp.Dispatch = &st
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func decodeNotification(body io.Reader) (Notification, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()
	var payload Notification
	if err := dec.Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request content is empty")
		}
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if len(payload) == 0 {
		return nil, errors.New("request content is empty")
	}
	return payload, nil
}

// FieldNames returns the sorted keys of a notification, for logging.
func (n Notification) FieldNames() []string {
	keys := make([]string, 0, len(n))
	for k := range n {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
