package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"botgate/internal/events"
	"botgate/internal/gateway"
)

// StatusSource provides the runtime snapshot served on /status.
type StatusSource interface {
	Status() gateway.Status
}

// EventLister provides recent detection events for the admin surface.
type EventLister interface {
	RecentEvents(ctx context.Context, limit int) ([]events.StoredEvent, error)
}

// Server exposes the admin HTTP surface: health, runtime status, and
// recent detection events. It listens separately from gateway traffic.
type Server struct {
	status StatusSource
	lister EventLister
	logger *slog.Logger
	mux    *http.ServeMux
}

// New wires handlers onto an HTTP mux. lister may be nil when no event
// storage is configured.
func New(status StatusSource, lister EventLister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		status: status,
		lister: lister,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/api/events/recent", s.handleRecentEvents)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if s.lister == nil {
		http.Error(w, "event storage not configured", http.StatusNotFound)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	recent, err := s.lister.RecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing recent events failed", "error", err)
		http.Error(w, "event lookup failed", http.StatusInternalServerError)
		return
	}
	if recent == nil {
		recent = []events.StoredEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(recent),
		"events": recent,
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
