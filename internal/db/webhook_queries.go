/*-------------------------------------------------------------------------
 *
 * webhook_queries.go
 *    Database queries for webhook deliveries
 *
 * Claiming a delivery flips queued -> processing inside the claim
 * statement itself (FOR UPDATE SKIP LOCKED), so exactly one worker ever
 * sends a given attempt even with a pool of workers across replicas.
 * A claim holds the row only for a lease (stamped into next_attempt_at):
 * if the worker crashes or its bookkeeping write fails, the row becomes
 * claimable again once the lease lapses instead of sticking in
 * processing forever.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/db/webhook_queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

/* Webhook delivery queries */
const (
	insertDeliveryQuery = `
		INSERT INTO approvald.webhook_deliveries
		(id, approval_id, target_url, event_type, payload, signature, signed_at,
		 status, attempt_count, max_attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'queued', 0, $8, $9)
		RETURNING created_at`

	getDeliveryQuery = `SELECT * FROM approvald.webhook_deliveries WHERE id = $1`

	claimDeliveriesQuery = `
		UPDATE approvald.webhook_deliveries
		SET status = 'processing', next_attempt_at = $1 + make_interval(secs => $3)
		WHERE id IN (
			SELECT id FROM approvald.webhook_deliveries
			WHERE status IN ('queued', 'failed', 'processing') AND next_attempt_at <= $1
			ORDER BY next_attempt_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`

	markDeliveredQuery = `
		UPDATE approvald.webhook_deliveries
		SET status = 'completed', attempt_count = $2, completed_at = NOW(), last_error = NULL
		WHERE id = $1 AND status = 'processing'`

	markFailedQuery = `
		UPDATE approvald.webhook_deliveries
		SET status = $2, attempt_count = $3, next_attempt_at = $4, last_error = $5
		WHERE id = $1 AND status = 'processing'`

	deferDeliveryQuery = `
		UPDATE approvald.webhook_deliveries
		SET status = 'queued', next_attempt_at = $2
		WHERE id = $1 AND status = 'processing'`

	requeueDeliveryQuery = `
		UPDATE approvald.webhook_deliveries
		SET status = 'queued', attempt_count = 0, next_attempt_at = NOW(),
			signature = $2, signed_at = $3, last_error = NULL
		WHERE id = $1 AND status IN ('dead', 'failed')
		RETURNING *`

	listDeadDeliveriesQuery = `
		SELECT * FROM approvald.webhook_deliveries
		WHERE status = 'dead'
		ORDER BY next_attempt_at DESC
		LIMIT $1 OFFSET $2`

	listDeliveriesForApprovalQuery = `
		SELECT * FROM approvald.webhook_deliveries
		WHERE approval_id = $1
		ORDER BY created_at DESC`
)

/* InsertDelivery inserts a new queued delivery */
func (q *Queries) InsertDelivery(ctx context.Context, d *WebhookDelivery) error {
	params := []interface{}{
		d.ID, d.ApprovalID, d.TargetURL, d.EventType, d.Payload, d.Signature, d.SignedAt,
		d.MaxAttempts, d.NextAttemptAt,
	}
	err := q.DB.QueryRowxContext(ctx, insertDeliveryQuery, params...).Scan(&d.CreatedAt)
	if err != nil {
		return q.formatQueryError("INSERT", insertDeliveryQuery, len(params), "approvald.webhook_deliveries", err)
	}
	d.Status = DeliveryQueued
	return nil
}

/* GetDelivery gets a delivery by ID */
func (q *Queries) GetDelivery(ctx context.Context, id uuid.UUID) (*WebhookDelivery, error) {
	var d WebhookDelivery
	err := q.DB.GetContext(ctx, &d, getDeliveryQuery, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("webhook delivery '%s' not found on %s: %w",
			id.String(), q.getConnInfoString(), ErrNotFound)
	}
	if err != nil {
		return nil, q.formatQueryError("SELECT", getDeliveryQuery, 1, "approvald.webhook_deliveries", err)
	}
	return &d, nil
}

/* ClaimDeliveries atomically claims up to n retry-ready deliveries. Each
 * claim holds for the given lease; processing rows whose lease lapsed are
 * treated as abandoned and claimed again. */
func (q *Queries) ClaimDeliveries(ctx context.Context, now time.Time, lease time.Duration, n int) ([]WebhookDelivery, error) {
	var claimed []WebhookDelivery
	err := q.DB.SelectContext(ctx, &claimed, claimDeliveriesQuery, now, n, lease.Seconds())
	if err != nil {
		return nil, q.formatQueryError("UPDATE", claimDeliveriesQuery, 3, "approvald.webhook_deliveries", err)
	}
	return claimed, nil
}

/* MarkDelivered marks a claimed delivery as completed */
func (q *Queries) MarkDelivered(ctx context.Context, id uuid.UUID, attemptCount int) error {
	_, err := q.DB.ExecContext(ctx, markDeliveredQuery, id, attemptCount)
	if err != nil {
		return q.formatQueryError("UPDATE", markDeliveredQuery, 2, "approvald.webhook_deliveries", err)
	}
	return nil
}

/* MarkFailed records a failed attempt, either rescheduling the delivery or
 * parking it in the dead letter state */
func (q *Queries) MarkFailed(ctx context.Context, id uuid.UUID, status string, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	_, err := q.DB.ExecContext(ctx, markFailedQuery, id, status, attemptCount, nextAttemptAt, lastError)
	if err != nil {
		return q.formatQueryError("UPDATE", markFailedQuery, 5, "approvald.webhook_deliveries", err)
	}
	return nil
}

/* DeferDelivery returns a claimed delivery to the queue without consuming
 * an attempt (used when the send path is rate limited) */
func (q *Queries) DeferDelivery(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	_, err := q.DB.ExecContext(ctx, deferDeliveryQuery, id, nextAttemptAt)
	if err != nil {
		return q.formatQueryError("UPDATE", deferDeliveryQuery, 2, "approvald.webhook_deliveries", err)
	}
	return nil
}

/* RequeueDelivery resets a dead or failed delivery with a fresh signature */
func (q *Queries) RequeueDelivery(ctx context.Context, id uuid.UUID, signature string, signedAt time.Time) (*WebhookDelivery, error) {
	var d WebhookDelivery
	err := q.DB.GetContext(ctx, &d, requeueDeliveryQuery, id, signature, signedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("webhook delivery '%s' not found or not requeueable on %s: %w",
			id.String(), q.getConnInfoString(), ErrNotFound)
	}
	if err != nil {
		return nil, q.formatQueryError("UPDATE", requeueDeliveryQuery, 3, "approvald.webhook_deliveries", err)
	}
	return &d, nil
}

/* ListDeadDeliveries lists dead-lettered deliveries for manual inspection */
func (q *Queries) ListDeadDeliveries(ctx context.Context, limit, offset int) ([]WebhookDelivery, error) {
	var deliveries []WebhookDelivery
	params := []interface{}{limit, offset}
	err := q.DB.SelectContext(ctx, &deliveries, listDeadDeliveriesQuery, params...)
	if err != nil {
		return nil, q.formatQueryError("SELECT", listDeadDeliveriesQuery, len(params), "approvald.webhook_deliveries", err)
	}
	return deliveries, nil
}

/* ListDeliveriesForApproval lists all deliveries for an approval */
func (q *Queries) ListDeliveriesForApproval(ctx context.Context, approvalID uuid.UUID) ([]WebhookDelivery, error) {
	var deliveries []WebhookDelivery
	err := q.DB.SelectContext(ctx, &deliveries, listDeliveriesForApprovalQuery, approvalID)
	if err != nil {
		return nil, q.formatQueryError("SELECT", listDeliveriesForApprovalQuery, 1, "approvald.webhook_deliveries", err)
	}
	return deliveries, nil
}
