// Package gateway terminates inbound webhook HTTP traffic, normalizes
// platform payloads into events, and hands them to the dispatcher. Requests
// are acknowledged promptly; all pipeline work happens off the request path.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielscholl/claude-sdlc/internal/logging"
)

// maxPayloadBytes caps webhook request bodies.
const maxPayloadBytes = 1 << 20

// DispatchFunc receives a normalized event after the HTTP response is sent.
type DispatchFunc func(ctx context.Context, event *Event)

// ReportFunc produces the health report served on /health.
type ReportFunc func(ctx context.Context) any

// Server is the webhook HTTP listener.
type Server struct {
	addr     string
	dispatch DispatchFunc
	report   ReportFunc
	log      *slog.Logger

	httpServer *http.Server
	baseCtx    context.Context
}

// NewServer creates a gateway server bound to host:port.
func NewServer(host string, port int, dispatch DispatchFunc, report ReportFunc) *Server {
	return &Server{
		addr:     fmt.Sprintf("%s:%d", host, port),
		dispatch: dispatch,
		report:   report,
		log:      logging.WithComponent("gateway"),
	}
}

// Start binds the listener and begins serving in the background. It returns
// once the port is bound so callers can sequence tunnel setup after it.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx

	mux := http.NewServeMux()
	mux.HandleFunc("POST /gh-webhook", s.handleGitHub)
	mux.HandleFunc("POST /gl-webhook", s.handleGitLab)
	mux.HandleFunc("GET /health", s.handleHealth)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("Gateway server stopped", slog.Any("error", err))
		}
	}()

	s.log.Info("Gateway listening", slog.String("addr", s.addr))
	return nil
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "ping" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "detail": "pong"})
		return
	}
	s.handleWebhook(w, r, eventType, normalizeGitHub)
}

func (s *Server) handleGitLab(w http.ResponseWriter, r *http.Request) {
	s.handleWebhook(w, r, r.Header.Get("X-Gitlab-Event"), normalizeGitLab)
}

// handleWebhook runs the shared receive path: read, normalize, acknowledge,
// then dispatch on a goroutine tied to the server's lifetime rather than the
// request's.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, eventType string, normalize func(string, []byte, time.Time) (*Event, error)) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	event, err := normalize(eventType, body, time.Now().UTC())
	if err != nil {
		switch {
		case IsInvalidPayload(err):
			s.log.Warn("Rejected malformed delivery",
				slog.String("event_type", eventType),
				slog.Any("error", err),
			)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case IsUnsupportedEvent(err):
			s.log.Debug("Ignored delivery", slog.String("event_type", eventType), slog.Any("error", err))
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		default:
			s.log.Error("Failed to process delivery", slog.Any("error", err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}

	s.log.Info("Webhook received",
		slog.String("platform", string(event.Platform)),
		slog.String("kind", string(event.Kind)),
		slog.String("issue", event.Issue.Key()),
	)

	go s.dispatch(s.baseCtx, event)

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.report(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
