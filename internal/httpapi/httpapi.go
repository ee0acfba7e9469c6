// Package httpapi exposes the internal reminder-mutation signal endpoints.
//
// When the scheduler runs in a different process than the HTTP API that
// writes reminder rows, the API process calls these endpoints after each
// mutation; every call maps 1:1 to a Notifier call. Authentication is a
// shared static token header.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"sugarbot/internal/reminder"
)

// TokenHeader carries the shared internal secret.
const TokenHeader = "X-Internal-Token"

// Signals is the Notifier surface the server drives.
type Signals interface {
	NotifySaved(ctx context.Context, id int64) error
	NotifyDeleted(ctx context.Context, id int64) (int, error)
}

// EventSink arms after-event one-shots anchored to a logged event.
type EventSink interface {
	ScheduleAfterEvent(ctx context.Context, id int64, eventAt time.Time) error
}

type Config struct {
	Addr  string
	Token string
}

type Server struct {
	cfg     Config
	signals Signals
	events  EventSink
	log     zerolog.Logger
	srv     *http.Server
}

func New(cfg Config, signals Signals, events EventSink, log zerolog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8090"
	}
	s := &Server{cfg: cfg, signals: signals, events: events, log: log}

	r := chi.NewRouter()
	r.Use(s.auth)
	r.Post("/internal/reminders/saved", s.handleSaved)
	r.Post("/internal/reminders/deleted", s.handleDeleted)
	r.Post("/internal/events", s.handleEvent)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until ListenAndServe fails; intended to run in its own
// goroutine. http.ErrServerClosed (normal shutdown) is swallowed.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("internal api listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(TokenHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type idPayload struct {
	ID int64 `json:"id"`
}

type eventPayload struct {
	ReminderID int64  `json:"reminder_id"`
	At         string `json:"at,omitempty"` // RFC3339; empty means now
}

func (s *Server) handleSaved(w http.ResponseWriter, r *http.Request) {
	var p idPayload
	if !decodeBody(w, r, &p) || !requireID(w, p.ID) {
		return
	}
	if err := s.signals.NotifySaved(r.Context(), p.ID); err != nil {
		s.writeSignalError(w, p.ID, "saved", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleted(w http.ResponseWriter, r *http.Request) {
	var p idPayload
	if !decodeBody(w, r, &p) || !requireID(w, p.ID) {
		return
	}
	removed, err := s.signals.NotifyDeleted(r.Context(), p.ID)
	if err != nil {
		s.writeSignalError(w, p.ID, "deleted", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "removed": removed})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var p eventPayload
	if !decodeBody(w, r, &p) || !requireID(w, p.ReminderID) {
		return
	}
	at := time.Now().UTC()
	if p.At != "" {
		parsed, err := time.Parse(time.RFC3339, p.At)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad at timestamp"})
			return
		}
		at = parsed
	}
	if err := s.events.ScheduleAfterEvent(r.Context(), p.ReminderID, at); err != nil {
		s.writeSignalError(w, p.ReminderID, "event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeSignalError maps the core's error taxonomy onto status codes: a
// missing scheduler is a wiring bug (503 so the caller notices), anything
// else is an internal failure (500).
func (s *Server) writeSignalError(w http.ResponseWriter, id int64, op string, err error) {
	s.log.Error().Int64("reminder_id", id).Str("op", op).Err(err).Msg("signal handling failed")
	status := http.StatusInternalServerError
	if errors.Is(err, reminder.ErrSchedulerNotRegistered) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request body"})
		return false
	}
	return true
}

func requireID(w http.ResponseWriter, id int64) bool {
	if id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id required"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
