package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"subsync/internal/config"
)

// RouteRegistrar mounts a handler group's routes onto a router.
type RouteRegistrar func(r chi.Router)

// Server wires the HTTP chassis: global middleware, authentication, the
// per-user rate limiter and the health endpoint. Handlers are attached
// through the registrar slices before MountRoutes is called.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Authenticator  Authenticator
	RateLimitStore RateLimitStore
	HealthProbes   []HealthProbe

	// Instrument wraps every request when set (Prometheus request metrics).
	Instrument func(http.Handler) http.Handler
	// MetricsHandler is served unauthenticated at /metrics when set.
	MetricsHandler http.Handler

	// WebhookRouteRegistrars are mounted under /webhooks without bearer auth;
	// callers authenticate by payload signature.
	WebhookRouteRegistrars []RouteRegistrar
	// V1RouteRegistrars are mounted under /v1 behind AuthMiddleware.
	V1RouteRegistrars []RouteRegistrar

	closers []func() error
	router  *chi.Mux
}

// NewServer creates a Server with an empty router.
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

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi mux for tests and late route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers fn to run during Shutdown, in reverse registration order.
func (s *Server) OnShutdown(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases resources registered with OnShutdown. All closers run
// even when one fails; the errors are joined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Logger.ErrorContext(ctx, "error releasing server resource", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("releasing server resources: %w", err)
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
