package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"ferry/internal/config"
	"ferry/internal/dispatch"
	"ferry/internal/logging"
	"ferry/internal/pipeline"
	"ferry/internal/workflow"
)

const serviceName = "ferry webhook"

// Dispatcher accepts one notified item for asynchronous processing.
type Dispatcher interface {
	Submit(item pipeline.WorkItem) (string, error)
}

// statusReporter is implemented by dispatchers that expose pool state.
type statusReporter interface {
	Status() dispatch.Status
}

// Server is the push endpoint.
type Server struct {
	bind         string
	secret       string
	maxBodyBytes int64
	stats        *workflow.LifetimeStats
	logger       *slog.Logger
	now          func() time.Time

	mu         sync.RWMutex
	dispatcher Dispatcher
	listener   net.Listener

	handler http.Handler
	server  *http.Server
}

// NewServer builds the endpoint. dispatcher may be nil and wired later with
// SetDispatcher; until then notifications are answered with 503.
func NewServer(cfg *config.Config, dispatcher Dispatcher, stats *workflow.LifetimeStats, logger *slog.Logger) *Server {
	s := &Server{
		stats:  stats,
		logger: logger,
		now:    time.Now,
	}
	if cfg != nil {
		s.bind = strings.TrimSpace(cfg.Webhook.Bind)
		s.maxBodyBytes = cfg.Webhook.MaxBodyBytes
		if cfg.Webhook.EnableAuth {
			s.secret = cfg.Webhook.Secret
		}
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = 1 << 20
	}
	if dispatcher != nil {
		s.dispatcher = dispatcher
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHealth)
	mux.HandleFunc("/webhook/upload", s.limitBody(s.signatureMiddleware(s.secret, s.handleUpload)))
	mux.HandleFunc("/webhook/test", s.limitBody(s.signatureMiddleware(s.secret, s.handleTest)))
	mux.HandleFunc("/webhook/status", s.handleStatus)
	s.handler = mux

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetDispatcher wires the engine after the server has started.
func (s *Server) SetDispatcher(d Dispatcher) {
	s.mu.Lock()
	s.dispatcher = d
	s.mu.Unlock()
	s.log().Info("webhook dispatcher configured")
}

func (s *Server) currentDispatcher() Dispatcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dispatcher
}

// Ready reports whether notifications can be accepted.
func (s *Server) Ready() bool {
	return s.currentDispatcher() != nil
}

// Start listens on webhook.bind and serves in the background until ctx ends
// or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("webhook.bind is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("webhook listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("webhook server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("webhook server listening",
		logging.String(logging.FieldEventType, "webhook_listening"),
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.secret != ""),
	)
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting up to five seconds for open requests.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *Server) limitBody(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		}
		next(w, r)
	}
}

func (s *Server) timestamp() string {
	return s.now().Format(time.RFC3339)
}

func (s *Server) readiness() string {
	if s.Ready() {
		return "ready"
	}
	return "not_ready"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	s.writeError(w, http.StatusBadRequest, "unable to read request body")
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "webhook"))
	}
	return logging.NewNop()
}
