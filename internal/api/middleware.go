/*-------------------------------------------------------------------------
 *
 * middleware.go
 *    HTTP middleware for the approvald API
 *
 * Provides logging, CORS, and decision rate limiting middleware. The
 * rate limiter is backed by the shared database window store, so limits
 * hold across server replicas.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/api/middleware.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/outreachforge/approvald/internal/metrics"
	"github.com/outreachforge/approvald/internal/ratelimit"
)

/* LoggingMiddleware logs requests with structured logging and metrics */
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		/* Wrap response writer to capture status code */
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		/* Record metrics */
		endpoint := r.URL.Path
		metrics.RecordHTTPRequest(r.Method, endpoint, wrapped.statusCode, duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

/* CORSMiddleware adds CORS headers */
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

/* DecisionRateLimitMiddleware throttles state-changing endpoints per
 * caller identity. Reads pass through untouched. Rejections carry a
 * Retry-After header derived from the sliding window, and a store
 * outage fails open inside the limiter itself. */
func DecisionRateLimitMiddleware(limiter *ratelimit.Limiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			identifier := callerIdentity(r)
			result := limiter.Check(r.Context(), identifier, "decision", limit, window)
			if !result.Allowed {
				requestID := GetRequestID(r.Context())
				retryAfter := int(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				metrics.WarnWithContext(r.Context(), "decision rate limit exceeded", map[string]interface{}{
					"identifier":  identifier,
					"endpoint":    r.URL.Path,
					"retry_after": retryAfter,
				})
				respondError(w, NewErrorWithContext(http.StatusTooManyRequests, "rate limit exceeded", nil, requestID, r.URL.Path, r.Method, map[string]interface{}{
					"retry_after_seconds": retryAfter,
				}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

/* callerIdentity picks the rate limit key for a request: the reviewer
 * header when present, else the client IP. */
func callerIdentity(r *http.Request) string {
	if reviewer := r.Header.Get("X-Reviewer-Email"); reviewer != "" {
		return strings.ToLower(reviewer)
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
