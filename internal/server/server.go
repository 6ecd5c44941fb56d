// Package server exposes the trigger, status and subscription endpoints.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/rewind-dispatch/pkg/broadcast"
	"github.com/Sternrassler/rewind-dispatch/pkg/checkpoint"
	"github.com/Sternrassler/rewind-dispatch/pkg/compose"
	"github.com/Sternrassler/rewind-dispatch/pkg/logging"
	"github.com/Sternrassler/rewind-dispatch/pkg/metrics"
	"github.com/Sternrassler/rewind-dispatch/pkg/recipients"
	"github.com/Sternrassler/rewind-dispatch/pkg/scheduler"
)

// Dispatcher runs one scheduler invocation.
type Dispatcher interface {
	Run(ctx context.Context) (scheduler.Summary, error)
	Status(ctx context.Context, workday string) (*checkpoint.Checkpoint, error)
	Workday() string
}

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Mailer sends a single composed message.
type Mailer interface {
	Send(ctx context.Context, r recipients.Recipient, msg compose.Message) error
}

// Broadcaster sends a one-off announcement.
type Broadcaster interface {
	Send(ctx context.Context, req broadcast.Request) (broadcast.Result, error)
}

// Server holds the HTTP dependencies.
type Server struct {
	Dispatcher  Dispatcher
	Checkpoints Pinger
	Recipients  recipients.Store
	Composer    compose.Composer
	Mailer      Mailer
	Broadcaster Broadcaster
	CronSecret  string

	// AdminEmail receives test-mode broadcasts that name no address.
	AdminEmail string

	// DefaultOffsets and DefaultCategories fill in signups that omit them.
	DefaultOffsets    []int
	DefaultCategories []string

	logger    zerolog.Logger
	hasLogger bool
}

// SetLogger replaces the component logger.
func (s *Server) SetLogger(logger zerolog.Logger) {
	s.logger = logger
	s.hasLogger = true
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	if !s.hasLogger {
		s.logger = logging.NewLogger("server")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireBearer)
			r.Get("/dispatch", s.handleDispatch)
			r.Post("/dispatch", s.handleDispatch)
			r.Get("/status", s.handleStatus)
			r.Post("/broadcast", s.handleBroadcast)
		})
		r.Post("/signup", s.handleSignup)
		r.Get("/unsubscribe", s.handleUnsubscribe)
	})
	return r
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r.Header.Get("Authorization"), s.CronSecret) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorized compares in constant time. An empty secret rejects everything.
func authorized(header, secret string) bool {
	if secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.Checkpoints.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Dispatcher.Run(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Str("workday", summary.Workday).Msg("Dispatch failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	workday := r.URL.Query().Get("workday")
	if workday == "" {
		workday = s.Dispatcher.Workday()
	} else if _, err := checkpoint.ParseWorkday(workday); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid workday"})
		return
	}

	cp, err := s.Dispatcher.Status(r.Context(), workday)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no checkpoint", "workday": workday})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"checkpoint": cp,
			"percent":    cp.Percent(),
		})
	}
}

// BroadcastRequest is the body of POST /api/broadcast. Nothing is sent to
// subscribers unless ActualSend is true; the footers default to on.
type BroadcastRequest struct {
	Subject            string `json:"subject"`
	HTMLBody           string `json:"htmlBody"`
	ActualSend         bool   `json:"actualSend"`
	TestUserEmail      string `json:"testUserEmail"`
	IncludeUnsubscribe *bool  `json:"includeUnsubscribe"`
	IncludeEditPrefs   *bool  `json:"includeEditPrefs"`
	FromName           string `json:"fromName"`
	BatchSize          int    `json:"batchSize"`
	After              string `json:"after"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.Broadcaster == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "broadcast is not configured"})
		return
	}
	var body BroadcastRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON"})
		return
	}

	testEmail := body.TestUserEmail
	if testEmail == "" {
		testEmail = s.AdminEmail
	}
	req := broadcast.Request{
		Subject:            body.Subject,
		HTMLBody:           body.HTMLBody,
		Live:               body.ActualSend,
		TestEmail:          testEmail,
		IncludeUnsubscribe: body.IncludeUnsubscribe == nil || *body.IncludeUnsubscribe,
		IncludeEditPrefs:   body.IncludeEditPrefs == nil || *body.IncludeEditPrefs,
		FromName:           body.FromName,
		BatchSize:          body.BatchSize,
		After:              body.After,
	}

	res, err := s.Broadcaster.Send(r.Context(), req)
	switch {
	case errors.Is(err, broadcast.ErrEmptyMessage), errors.Is(err, broadcast.ErrNoTestAddress):
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
	case err != nil:
		s.logger.Error().Err(err).Str("subject", res.Subject).Msg("Broadcast failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// SignupRequest is the body of POST /api/signup.
type SignupRequest struct {
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	Offsets    []int    `json:"offsets"`
	Categories []string `json:"categories"`
	Timezone   string   `json:"timezone"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	email, err := recipients.NormalizeEmail(req.Email)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid email"})
		return
	}

	offsets := positive(req.Offsets)
	if len(offsets) == 0 {
		offsets = s.DefaultOffsets
	}
	categories := req.Categories
	if len(categories) == 0 {
		categories = s.DefaultCategories
	}

	rec, err := s.Recipients.Upsert(r.Context(), recipients.Recipient{
		Email:      email,
		Name:       strings.TrimSpace(req.Name),
		Offsets:    offsets,
		Categories: categories,
		Timezone:   req.Timezone,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("email", email).Msg("Signup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not save subscription"})
		return
	}

	confirmed := true
	msg, err := s.Composer.Confirmation(rec)
	if err == nil {
		err = s.Mailer.Send(r.Context(), rec, msg)
	}
	if err != nil {
		// The subscription stands even if the welcome message is lost.
		confirmed = false
		s.logger.Warn().Err(err).Str("email", email).Msg("Confirmation email failed")
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": rec.ID, "confirmation_sent": confirmed})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	email, err := recipients.NormalizeEmail(r.URL.Query().Get("email"))
	token := r.URL.Query().Get("token")
	if err != nil || !compose.VerifyUnsubscribeToken(email, token, s.Composer.UnsubscribeSecret) {
		writePage(w, http.StatusBadRequest, "Invalid unsubscribe link.")
		return
	}

	switch err := s.Recipients.Unsubscribe(r.Context(), email); {
	case errors.Is(err, recipients.ErrNotFound):
		writePage(w, http.StatusNotFound, "That address is not subscribed.")
	case err != nil:
		s.logger.Error().Err(err).Str("email", email).Msg("Unsubscribe failed")
		writePage(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
	default:
		writePage(w, http.StatusOK, "You have been unsubscribed from Research Rewind.")
	}
}

func positive(offsets []int) []int {
	var out []int
	for _, o := range offsets {
		if o >= 1 {
			out = append(out, o)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writePage(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text + "\n"))
}
