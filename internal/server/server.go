// Package server exposes fileEntity and the health check over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"statfiler/internal/filing"
	"statfiler/internal/health"
	"statfiler/internal/metrics"
	"statfiler/internal/pipeline"
)

// Filer files one request by id.
type Filer interface {
	FileEntity(ctx context.Context, filingID string) (pipeline.Outcome, error)
}

// HealthChecker runs one synthetic check.
type HealthChecker interface {
	Run(ctx context.Context) health.Report
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	filer   Filer
	health  HealthChecker
	metrics *metrics.Metrics
	logger  *zap.Logger
	router  chi.Router
}

// New builds the router. health may be nil, in which case the health run
// endpoint answers 404.
func New(filer Filer, checker HealthChecker, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{filer: filer, health: checker, metrics: m, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Post("/v1/filings/{id}/file", s.handleFile)
	if checker != nil {
		r.Post("/v1/health/run", s.handleHealthRun)
	}
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests for up to shutdownGrace.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownGrace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// A submit that has been clicked must run to completion even if the
	// caller goes away.
	out, err := s.filer.FileEntity(context.WithoutCancel(r.Context()), id)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("file entity failed", zap.String("filing_id", id), zap.Error(err))
		}
		writeJSON(w, status, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealthRun(w http.ResponseWriter, r *http.Request) {
	rep := s.health.Run(context.WithoutCancel(r.Context()))
	status := http.StatusOK
	if !rep.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

func statusFor(err error) int {
	switch {
	case filing.IsStatutoryViolation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, filing.ErrFilingNotFound):
		return http.StatusNotFound
	case errors.Is(err, filing.ErrAwaitingManualReview),
		errors.Is(err, filing.ErrInterruptedRun),
		errors.Is(err, filing.ErrStatusConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
