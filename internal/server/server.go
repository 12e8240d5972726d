// Package server exposes the agent's state over a small read-mostly HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
	"github.com/j-veylop/antigravity-reset-agent/internal/models"
	"github.com/j-veylop/antigravity-reset-agent/internal/services"
)

const (
	defaultLimit    = 50
	maxLimit        = 500
	shutdownTimeout = 5 * time.Second
)

// Backend is the part of the services manager the API reads from.
type Backend interface {
	Schedules() []models.ResetSchedule
	Quotas() []models.AccountQuota
	Notifications(limit int) ([]models.Notification, error)
	PreheatAttempts(limit int) ([]models.PreheatAttempt, error)
	PreheatAll(ctx context.Context) services.PreheatResult
	PreheatModel(ctx context.Context, email, modelID string) (bool, error)
}

// Server serves the HTTP API.
type Server struct {
	backend  Backend
	gatherer prometheus.Gatherer
	now      func() time.Time
	router   chi.Router
}

// New builds the router. Metrics are served from gatherer.
func New(backend Backend, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		backend:  backend,
		gatherer: gatherer,
		now:      time.Now,
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/schedules", s.listSchedules)
		r.Get("/quotas", s.listQuotas)
		r.Get("/notifications", s.listNotifications)
		r.Get("/preheats", s.listPreheats)
		r.Post("/preheat", s.preheat)
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// scheduleView adds derived fields to a schedule.
type scheduleView struct {
	models.ResetSchedule
	Status       string `json:"status"`
	UntilSeconds int64  `json:"until_seconds"`
}

func (s *Server) listSchedules(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	scheds := s.backend.Schedules()

	out := make([]scheduleView, 0, len(scheds))
	for _, sched := range scheds {
		out = append(out, scheduleView{
			ResetSchedule: sched,
			Status:        sched.Status(),
			UntilSeconds:  int64(sched.Until(now) / time.Second),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listQuotas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Quotas())
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.backend.Notifications(limit)
	if err != nil {
		logger.Error("failed to read notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rows == nil {
		rows = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) listPreheats(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.backend.PreheatAttempts(limit)
	if err != nil {
		logger.Error("failed to read preheat attempts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rows == nil {
		rows = []models.PreheatAttempt{}
	}
	writeJSON(w, http.StatusOK, rows)
}

type preheatRequest struct {
	Email   string `json:"email"`
	ModelID string `json:"model_id"`
}

// preheat runs a manual preheat. An empty body preheats every tracked model
// of every account.
func (s *Server) preheat(w http.ResponseWriter, r *http.Request) {
	var req preheatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Email == "" && req.ModelID == "" {
		writeJSON(w, http.StatusOK, s.backend.PreheatAll(r.Context()))
		return
	}
	if req.Email == "" || req.ModelID == "" {
		writeError(w, http.StatusBadRequest, "email and model_id must be given together")
		return
	}

	ok, err := s.backend.PreheatModel(r.Context(), req.Email, req.ModelID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": ok})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}

// requestLogger emits one debug line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("http request",
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"latency", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
