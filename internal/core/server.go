// Package core provides the HTTP chassis for the billing sync service.
// It creates a chi router with the cross-cutting concerns (panic recovery,
// request IDs, request logging, metrics, and error rendering) applied before
// requests reach the webhook and purchase handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"billingsync/internal/config"
	"billingsync/internal/metrics"
)

// Server holds the dependencies of the HTTP surface so that tests can
// inject their own.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   metrics.Recorder

	// HealthChecks are run concurrently by GET /health.
	HealthChecks []HealthChecker

	// V1RouteRegistrars mount handler routes under /v1. They are supplied by
	// the entry point so that core does not import the handler packages.
	V1RouteRegistrars []func(chi.Router)

	// Root route registrars mount routes outside /v1 (the provider webhook
	// endpoint is configured at a fixed path on the provider side).
	RootRouteRegistrars []func(chi.Router)

	shutdownHooks []func(context.Context) error
	router        *chi.Mux
}

// NewServer validates its inputs and prepares an empty router. The caller
// mounts routes with MountRoutes once registrars are set.
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
		Metrics:   metrics.Nop{},
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

// OnShutdown registers fn to run during Shutdown. Hooks run in reverse
// registration order, so resources are released before the things they
// depend on.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.shutdownHooks = append(s.shutdownHooks, fn)
}

// Shutdown runs every shutdown hook and returns their joined errors.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for i := len(s.shutdownHooks) - 1; i >= 0; i-- {
		if err := s.shutdownHooks[i](ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
