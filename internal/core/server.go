// Package core provides the HTTP chassis for the campaign task service.
// It creates a chi router usable both as a standard HTTP server (local and
// container deployments) and behind the Lambda adapter. Cross-cutting concerns
// (panic recovery, request ids, logging, CORS, metrics, error formatting) are
// applied here before requests reach the action handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"campaigntasks/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	// RecordRequest records latency and count for one request. endpoint is the
	// matched route pattern, not the raw path.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of routes on the router.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies of the HTTP surface. Fields are set once
// during process initialization and read-only afterwards.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        MetricsCollector
	MetricsHandler http.Handler
	HealthProbes   []HealthProbe

	// RouteRegistrars mount the action handlers. They are populated by the
	// entry point so that core does not import handler packages.
	RouteRegistrars []RouteRegistrar

	// Closers are released in order by Shutdown.
	Closers []io.Closer

	router *chi.Mux
}

// NewServer prepares a server for route mounting. The caller mounts routes
// with MountRoutes after filling the optional fields.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases the resources registered in Closers. Every closer runs
// even if an earlier one fails; the errors are joined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for _, c := range s.Closers {
		if err := c.Close(); err != nil {
			s.Logger.ErrorContext(ctx, "error closing resource", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing resources: %w", err)
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
