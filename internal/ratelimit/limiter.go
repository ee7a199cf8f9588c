/*-------------------------------------------------------------------------
 *
 * limiter.go
 *    Sliding-window rate limiter
 *
 * Counts requests per (endpoint, identifier) in a continuously moving
 * window backed by a shared store. Store outages fail open: enforcing a
 * limit is worth less than taking down every caller, so unreachable
 * backends allow the request and log a warning.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/ratelimit/limiter.go
 *
 *-------------------------------------------------------------------------
 */

package ratelimit

import (
	"context"
	"time"

	"github.com/outreachforge/approvald/internal/db"
	"github.com/outreachforge/approvald/internal/metrics"
)

/* WindowStore is the shared timestamp store behind the limiter */
type WindowStore interface {
	TakeRateLimitSlot(ctx context.Context, endpoint, identifier string, limit int, window time.Duration, now time.Time) (*db.RateLimitSlot, error)
}

/* Result describes the outcome of a rate limit check */
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter struct {
	store WindowStore
	now   func() time.Time
}

/* NewLimiter creates a rate limiter over a shared window store */
func NewLimiter(store WindowStore) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

/* Check records a request against the sliding window and reports whether it
 * is allowed. The prune + count + insert runs as one atomic store round
 * trip, so boundary races between concurrent checks cannot oversubscribe
 * the window. */
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string, limit int, window time.Duration) Result {
	now := l.now()

	slot, err := l.store.TakeRateLimitSlot(ctx, endpoint, identifier, limit, window, now)
	if err != nil {
		/* Fail open: availability over enforcement */
		metrics.RecordRateLimitFailOpen()
		metrics.WarnWithContext(ctx, "Rate limit store unreachable, allowing request", map[string]interface{}{
			"endpoint":   endpoint,
			"identifier": identifier,
			"error":      err.Error(),
		})
		return Result{Allowed: true, Remaining: 0}
	}

	if !slot.Allowed {
		retryAfter := window - slot.OldestAge
		if retryAfter < 0 {
			retryAfter = 0
		}
		metrics.RecordRateLimitRejection(endpoint)
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	remaining := limit - slot.Count - 1
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining}
}
