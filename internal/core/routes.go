package core

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"campaigntasks/internal/types"
)

// defaultRequestTimeout applies when the configuration leaves REQUEST_TIMEOUT
// unset. It sits one second under the Lambda hard timeout.
const defaultRequestTimeout = 29 * time.Second

// requestIDHeader carries the correlation id in both directions.
const requestIDHeader = "X-Request-Id"

var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"Apikey",
}

// MountRoutes registers the middleware chain, the public operational routes
// and the action routes supplied through RouteRegistrars.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Get("/health", s.HandleHealth)
	if s.MetricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", s.MetricsHandler)
	}

	for _, registrar := range s.RouteRegistrars {
		registrar(s.router)
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, r, http.StatusNotFound, ErrorBody{Message: "Not found"})
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, r, http.StatusMethodNotAllowed, ErrorBody{Message: "Method not allowed"})
	})
}

// registerGlobalMiddleware applies middleware in order:
//
//  1. Recoverer       outermost, catches every panic
//  2. ContextTimeout  soft deadline before the platform kills the invocation
//  3. RequestID       correlation id for logs and outbound calls
//  4. RequestLogger   structured access log with redacted headers
//  5. CORS            answers preflight before any handler runs
//  6. Metrics         latency and count per route
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Server.CorsAllowedOrigins) > 0 {
		return s.Config.Server.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context. Handlers
// observe it through the context passed to the queue and store clients.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses the caller's X-Request-Id or generates one, and
// echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
