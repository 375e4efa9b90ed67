// Package server exposes export runs over HTTP: start a run, follow its
// progress, cancel it, and query the reporting service and data sources
// while preparing a configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/canectors/viewexport/internal/errhandling"
	"github.com/canectors/viewexport/internal/factory"
	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/internal/modules/input"
	"github.com/canectors/viewexport/internal/runtime"
	"github.com/canectors/viewexport/pkg/export"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 1 << 20

// Options configures a Server.
type Options struct {
	// Clients builds the reporting client of each request. Defaults to
	// factory.NewReportingClient.
	Clients factory.ClientFactory
	// Sources builds the row source of a run. Defaults to factory.NewRunSource.
	Sources func(cfg *export.Config) (input.Source, error)
	// Columns builds the source read by the column listing. Defaults to
	// factory.NewSource.
	Columns func(cfg export.SourceConfig) (input.Source, error)
	// History records finished runs. Optional.
	History runtime.Recorder
	// Sleep replaces the wait between export attempts.
	Sleep errhandling.Sleeper
	// OutputRoot holds every export directory. A submitted outputDir is
	// resolved under it and may not leave it. Defaults to DefaultOutputRoot
	// in the working directory.
	OutputRoot string
	// DataRoot holds the file sources a request may read. Defaults to the
	// working directory.
	DataRoot string
}

// DefaultOutputRoot is the output root used when none is configured.
const DefaultOutputRoot = "exported_files"

// Server is the HTTP job API.
type Server struct {
	opts   Options
	router *chi.Mux
	tasks  *taskStore

	// ctx outlives requests; runs are bound to it.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Server with its routes.
func New(opts Options) *Server {
	if opts.Clients == nil {
		opts.Clients = factory.NewReportingClient
	}
	if opts.Sources == nil {
		opts.Sources = factory.NewRunSource
	}
	if opts.Columns == nil {
		opts.Columns = factory.NewSource
	}
	if opts.OutputRoot == "" {
		opts.OutputRoot = DefaultOutputRoot
	}
	if opts.DataRoot == "" {
		opts.DataRoot = "."
	}
	opts.OutputRoot = absPath(opts.OutputRoot)
	opts.DataRoot = absPath(opts.DataRoot)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:   opts,
		router: chi.NewRouter(),
		tasks:  newTaskStore(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/exports", s.handleListExports)
		r.Post("/exports", s.handleStartExport)
		r.Get("/exports/{taskID}", s.handleExportStatus)
		r.Delete("/exports/{taskID}", s.handleCancelExport)

		r.Post("/connection/test", s.handleTestConnection)
		r.Post("/views", s.handleListViews)
		r.Post("/columns", s.handleListColumns)
	})
}

// ListenAndServe serves on addr until ctx is done, then cancels running
// exports and shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("http server shutting down")
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close cancels every run still in progress.
func (s *Server) Close() {
	s.tasks.cancelAll()
	s.cancel()
}

// requestLogger logs one line per request through the application logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
