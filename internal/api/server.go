// Package api exposes the operational HTTP interface of the pipeline services.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/config"
	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
	"github.com/JakeFAU/olx-listings-pipeline/internal/metrics"
)

// WorkList is the read side of the crawl work list.
type WorkList interface {
	Load(ctx context.Context) ([]listing.WorkItem, error)
	Summary(ctx context.Context) (map[listing.Status]int, error)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Server wires HTTP handlers to the work list and readiness checks.
type Server struct {
	router   chi.Router
	workList WorkList
	checks   map[string]Check
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. workList may be
// nil, in which case the /v1/worklist routes answer 404.
func NewServer(cfg config.APIConfig, workList WorkList, checks map[string]Check, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		workList: workList,
		checks:   checks,
		logger:   logger,
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/worklist", func(r chi.Router) {
		r.Get("/", s.workListSummary)
		r.Get("/items", s.workListItems)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failures := map[string]string{}
	for _, name := range names {
		if err := s.checks[name](r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

type summaryResponse struct {
	Total    int            `json:"total"`
	Statuses map[string]int `json:"statuses"`
}

func (s *Server) workListSummary(w http.ResponseWriter, r *http.Request) {
	if s.workList == nil {
		writeError(w, http.StatusNotFound, "work list not configured", s.logger)
		return
	}
	counts, err := s.workList.Summary(r.Context())
	if err != nil {
		s.logger.Error("work list summary failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read work list", s.logger)
		return
	}
	resp := summaryResponse{Statuses: make(map[string]int, len(counts))}
	for status, n := range counts {
		resp.Statuses[string(status)] = n
		resp.Total += n
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) workListItems(w http.ResponseWriter, r *http.Request) {
	if s.workList == nil {
		writeError(w, http.StatusNotFound, "work list not configured", s.logger)
		return
	}
	var filter listing.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := listing.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), s.logger)
			return
		}
		filter = status
	}
	items, err := s.workList.Load(r.Context())
	if err != nil {
		s.logger.Error("work list load failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read work list", s.logger)
		return
	}
	out := make([]listing.WorkItem, 0, len(items))
	for _, item := range items {
		if filter == "" || item.Status == filter {
			out = append(out, item)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out}, s.logger)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error", logger)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
