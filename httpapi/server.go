package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/engine"
	"github.com/isdmx/coderun/language"
	"github.com/isdmx/coderun/metrics"
)

const (
	// maxBodyBytes bounds a /run request body.
	maxBodyBytes = 1 << 20

	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Executor runs submissions and lists the supported languages.
type Executor interface {
	Execute(ctx context.Context, lang, source string) (engine.Result, error)
	Languages() []language.Info
}

// Server is the REST front end of the engine.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	executor Executor
	router   chi.Router
	http     *http.Server
}

// New creates a Server and mounts its routes.
func New(cfg *config.Config, logger *zap.Logger, executor Executor) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		executor: executor,
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route(s.cfg.API.BasePath, func(r chi.Router) {
		r.Use(jsonContentType)

		r.Get("/languages", s.handleListLanguages)
		r.Post("/run", s.handleRun)
	})
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on api.port and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting REST API", zap.String("addr", s.http.Addr), zap.String("base_path", s.cfg.API.BasePath))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down REST API")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
