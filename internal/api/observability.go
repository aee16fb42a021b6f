package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/tomsuharto-git/irm-personas-api/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const metricsContentType = "text/plain; version=0.0.4; charset=utf-8"

func (s *Server) requestObservabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		status := wrapped.Status()
		if status == 0 {
			status = http.StatusOK
		}
		latency := time.Since(startedAt)
		route := routePatternFromRequest(r)

		s.metrics.ObserveHTTPRequest(route, r.Method, status, latency)

		s.logger.Info("http_request", observability.Fields{
			"request_id": requestIDFromRequest(r),
			"route":      route,
			"method":     strings.ToUpper(strings.TrimSpace(r.Method)),
			"status":     status,
			"latency_ms": latency.Milliseconds(),
		})
	})
}

func (s *Server) recoverJSONMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic_recovered", observability.Fields{
					"request_id": requestIDFromRequest(r),
					"route":      routePatternFromRequest(r),
					"method":     strings.ToUpper(strings.TrimSpace(r.Method)),
					"status":     http.StatusInternalServerError,
					"panic":      fmt.Sprint(rec),
					"stack":      string(debug.Stack()),
				})
				writeInternalError(w, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func routePatternFromRequest(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	ctx := chi.RouteContext(r.Context())
	if ctx == nil {
		return "unmatched"
	}
	pattern := strings.TrimSpace(ctx.RoutePattern())
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}

func requestIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(middleware.GetReqID(r.Context()))
}
