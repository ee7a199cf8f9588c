/*-------------------------------------------------------------------------
 *
 * ratelimit_queries.go
 *    Sliding-window rate limit store
 *
 * The prune + count + insert sequence runs as a single statement under a
 * per-(endpoint, identifier) transaction-scoped advisory lock, so
 * concurrent checks at the window boundary cannot both take the last
 * slot. Keeping the window in PostgreSQL makes the limit hold across
 * service replicas, not just one process.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/db/ratelimit_queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"time"
)

const takeRateLimitSlotQuery = `
	WITH lock AS (
		SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))
	),
	params AS (
		SELECT $1::text AS endpoint, $2::text AS identifier,
			$3::timestamptz AS at, make_interval(secs => $4) AS win, $5::int AS lim
		FROM lock
	),
	pruned AS (
		DELETE FROM approvald.rate_limit_events e
		USING params p
		WHERE e.endpoint = p.endpoint AND e.identifier = p.identifier
			AND e.requested_at < p.at - p.win
	),
	current AS (
		SELECT COUNT(*) AS cnt, MIN(e.requested_at) AS oldest
		FROM approvald.rate_limit_events e, params p
		WHERE e.endpoint = p.endpoint AND e.identifier = p.identifier
			AND e.requested_at >= p.at - p.win
	),
	ins AS (
		INSERT INTO approvald.rate_limit_events (endpoint, identifier, requested_at)
		SELECT p.endpoint, p.identifier, p.at
		FROM params p, current c
		WHERE c.cnt < p.lim
		RETURNING 1
	)
	SELECT c.cnt AS count,
		COALESCE(EXTRACT(EPOCH FROM (SELECT at FROM params) - c.oldest), 0) AS oldest_age_seconds,
		EXISTS(SELECT 1 FROM ins) AS allowed
	FROM current c`

type rateLimitSlotRow struct {
	Count            int     `db:"count"`
	OldestAgeSeconds float64 `db:"oldest_age_seconds"`
	Allowed          bool    `db:"allowed"`
}

/* TakeRateLimitSlot atomically prunes expired timestamps, counts the
 * remainder, and records the new request if the window has room */
func (q *Queries) TakeRateLimitSlot(ctx context.Context, endpoint, identifier string, limit int, window time.Duration, now time.Time) (*RateLimitSlot, error) {
	var row rateLimitSlotRow
	params := []interface{}{endpoint, identifier, now, window.Seconds(), limit}
	err := q.DB.GetContext(ctx, &row, takeRateLimitSlotQuery, params...)
	if err != nil {
		return nil, q.formatQueryError("UPDATE", takeRateLimitSlotQuery, len(params), "approvald.rate_limit_events", err)
	}
	return &RateLimitSlot{
		Allowed:   row.Allowed,
		Count:     row.Count,
		OldestAge: time.Duration(row.OldestAgeSeconds * float64(time.Second)),
	}, nil
}
