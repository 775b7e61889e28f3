package core

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"reviewsms/internal/types"
)

const defaultRequestTimeout = 15 * time.Second

// RequestIDHeader carries the correlation id in both directions.
const RequestIDHeader = "X-Request-ID"

var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	APIKeyHeader,
}

// MountRoutes registers the middleware chain, the public health endpoint and
// every handler group.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.APIKeyMiddleware)

	s.router.Get("/health", s.HandleHealth)
	for _, register := range s.Registrars {
		register(s.router)
	}
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Server.CORSOrigins) > 0 {
		return s.Config.Server.CORSOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware bounds every request context by duration.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses the caller's X-Request-ID or generates one,
// stores it in the context and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), requestID)))
	})
}
