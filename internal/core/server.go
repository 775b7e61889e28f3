// Package core provides the HTTP chassis for the review SMS API. It builds a
// chi router, enforces cross-cutting concerns (panic recovery, request IDs,
// logging, API key auth, compression) and leaves routes to handler packages.
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	"reviewsms/internal/config"
)

// RouteRegistrar mounts a handler group on the authenticated router.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies of the API process.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	HealthProbes []HealthProbe

	// Keys verifies the X-API-Key header. A nil verifier disables auth,
	// which only tests rely on.
	Keys KeyVerifier

	Registrars []RouteRegistrar

	router *chi.Mux
}

// NewServer creates a Server with an empty router. Call MountRoutes after
// setting Registrars and HealthProbes.
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

// Handler returns the router wrapped with gzip response compression.
func (s *Server) Handler() http.Handler {
	return gzhttp.GzipHandler(s.router)
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}
