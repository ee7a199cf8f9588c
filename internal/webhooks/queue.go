/*-------------------------------------------------------------------------
 *
 * queue.go
 *    Durable webhook delivery queue
 *
 * Payloads are signed at enqueue time and stored as raw bytes, so every
 * retry resends the byte-identical body and the signature committed with
 * it; rotating the signing secret mid-flight cannot invalidate queued
 * deliveries. Failed attempts back off exponentially with a cap and
 * jitter; exhausting the attempt budget parks the delivery in the dead
 * letter state for manual inspection.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/webhooks/queue.go
 *
 *-------------------------------------------------------------------------
 */

package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/outreachforge/approvald/internal/db"
	"github.com/outreachforge/approvald/internal/metrics"
	"github.com/outreachforge/approvald/internal/ratelimit"
	"github.com/outreachforge/approvald/internal/security"
)

var (
	/* ErrDeliveryNotFound marks lookups on missing deliveries */
	ErrDeliveryNotFound = errors.New("webhook delivery not found")

	/* ErrDeliveryNotRequeueable marks requeue attempts on deliveries
	 * that are not dead or failed */
	ErrDeliveryNotRequeueable = errors.New("webhook delivery is not requeueable")
)

/* DeliveryStore is the durable store behind the queue */
type DeliveryStore interface {
	InsertDelivery(ctx context.Context, d *db.WebhookDelivery) error
	GetDelivery(ctx context.Context, id uuid.UUID) (*db.WebhookDelivery, error)
	ClaimDeliveries(ctx context.Context, now time.Time, lease time.Duration, n int) ([]db.WebhookDelivery, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, attemptCount int) error
	MarkFailed(ctx context.Context, id uuid.UUID, status string, attemptCount int, nextAttemptAt time.Time, lastError string) error
	DeferDelivery(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error
	RequeueDelivery(ctx context.Context, id uuid.UUID, signature string, signedAt time.Time) (*db.WebhookDelivery, error)
}

/* SendLimiter guards the delivery-send path */
type SendLimiter interface {
	Check(ctx context.Context, identifier, endpoint string, limit int, window time.Duration) ratelimit.Result
}

/* QueueConfig configures signing and retry behavior */
type QueueConfig struct {
	Secret         string
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
	ClaimLease     time.Duration
	DeliveryLimit  int
	DeliveryWindow time.Duration
}

/* BatchResult summarizes one ProcessBatch invocation */
type BatchResult struct {
	Processed int
	Failed    int
	Deferred  int
}

type Queue struct {
	store   DeliveryStore
	limiter SendLimiter
	client  *http.Client
	cfg     QueueConfig
	now     func() time.Time
}

/* NewQueue creates a webhook delivery queue. limiter may be nil to
 * disable send-path throttling. */
func NewQueue(store DeliveryStore, limiter SendLimiter, cfg QueueConfig) *Queue {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = 30 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	/* The lease must outlive the slowest possible send, or a live worker
	 * could lose its claim mid-flight */
	if cfg.ClaimLease <= cfg.RequestTimeout {
		cfg.ClaimLease = 2 * time.Minute
	}
	return &Queue{
		store:   store,
		limiter: limiter,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		cfg:     cfg,
		now:     time.Now,
	}
}

/* Enqueue builds the event envelope, signs it with the current secret, and
 * inserts a queued delivery */
func (q *Queue) Enqueue(ctx context.Context, approvalID uuid.UUID, targetURL string, eventType EventType, data map[string]interface{}) (uuid.UUID, error) {
	if targetURL == "" {
		return uuid.Nil, fmt.Errorf("webhook target URL is required for approval '%s'", approvalID.String())
	}

	now := q.now()
	envelope := Envelope{
		EventType: eventType,
		Data:      data,
		Timestamp: now.Unix(),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal webhook envelope: %w", err)
	}

	delivery := &db.WebhookDelivery{
		ID:            uuid.New(),
		ApprovalID:    approvalID,
		TargetURL:     targetURL,
		EventType:     string(eventType),
		Payload:       payload,
		Signature:     security.Sign(payload, q.cfg.Secret),
		SignedAt:      now,
		MaxAttempts:   q.cfg.MaxAttempts,
		NextAttemptAt: now,
	}

	if err := q.store.InsertDelivery(ctx, delivery); err != nil {
		return uuid.Nil, err
	}

	metrics.InfoWithContext(metrics.WithDeliveryIDLogContext(ctx, delivery.ID), "Webhook delivery enqueued", map[string]interface{}{
		"event_type":  eventType,
		"approval_id": approvalID.String(),
		"target_url":  targetURL,
	})
	return delivery.ID, nil
}

/* ProcessBatch claims up to n retry-ready deliveries and attempts each.
 * Per-item failures are recorded and logged; one delivery never aborts
 * the batch. */
func (q *Queue) ProcessBatch(ctx context.Context, n int) (BatchResult, error) {
	claimed, err := q.store.ClaimDeliveries(ctx, q.now(), q.cfg.ClaimLease, n)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to claim deliveries: %w", err)
	}

	var result BatchResult
	for i := range claimed {
		delivery := &claimed[i]
		dctx := metrics.WithDeliveryIDLogContext(ctx, delivery.ID)

		outcome, err := q.attempt(dctx, delivery)
		if err != nil {
			metrics.ErrorWithContext(dctx, "Webhook delivery bookkeeping failed", err, map[string]interface{}{
				"event_type": delivery.EventType,
			})
		}
		switch outcome {
		case attemptDelivered:
			result.Processed++
		case attemptDeferred:
			result.Deferred++
		default:
			result.Failed++
		}
	}
	return result, nil
}

type attemptOutcome int

const (
	attemptDelivered attemptOutcome = iota
	attemptFailed
	attemptDeferred
)

/* attempt sends one claimed delivery and records the outcome */
func (q *Queue) attempt(ctx context.Context, delivery *db.WebhookDelivery) (attemptOutcome, error) {
	if q.limiter != nil {
		res := q.limiter.Check(ctx, targetHost(delivery.TargetURL), "webhook_delivery", q.cfg.DeliveryLimit, q.cfg.DeliveryWindow)
		if !res.Allowed {
			/* Return to the queue without consuming an attempt */
			deferUntil := q.now().Add(res.RetryAfter)
			metrics.DebugWithContext(ctx, "Webhook delivery deferred by rate limiter", map[string]interface{}{
				"target_url":  delivery.TargetURL,
				"retry_after": res.RetryAfter.String(),
			})
			return attemptDeferred, q.store.DeferDelivery(ctx, delivery.ID, deferUntil)
		}
	}

	attempt := delivery.AttemptCount + 1
	start := q.now()
	sendErr := q.send(ctx, delivery)
	duration := time.Since(start)

	if sendErr == nil {
		metrics.RecordWebhookAttempt(delivery.EventType, "delivered", duration)
		metrics.InfoWithContext(ctx, "Webhook delivered", map[string]interface{}{
			"event_type": delivery.EventType,
			"attempt":    attempt,
		})
		return attemptDelivered, q.store.MarkDelivered(ctx, delivery.ID, attempt)
	}

	lastError := sendErr.Error()
	if attempt >= delivery.MaxAttempts {
		metrics.RecordWebhookAttempt(delivery.EventType, "dead", duration)
		metrics.RecordDeadLettered()
		metrics.ErrorWithContext(ctx, "Webhook delivery dead-lettered", sendErr, map[string]interface{}{
			"event_type":   delivery.EventType,
			"attempt":      attempt,
			"max_attempts": delivery.MaxAttempts,
		})
		return attemptFailed, q.store.MarkFailed(ctx, delivery.ID, db.DeliveryDead, attempt, q.now(), lastError)
	}

	next := q.now().Add(q.retryDelay(attempt))
	metrics.RecordWebhookAttempt(delivery.EventType, "failed", duration)
	metrics.WarnWithContext(ctx, "Webhook delivery failed, scheduled retry", map[string]interface{}{
		"event_type":      delivery.EventType,
		"attempt":         attempt,
		"next_attempt_at": next.Format(time.RFC3339),
		"error":           lastError,
	})
	return attemptFailed, q.store.MarkFailed(ctx, delivery.ID, db.DeliveryFailed, attempt, next, lastError)
}

/* send POSTs the stored payload with the stored signature under a bounded
 * timeout. Timing out counts as a failed attempt like any other error. */
func (q *Queue) send(ctx context.Context, delivery *db.WebhookDelivery) error {
	reqCtx, cancel := context.WithTimeout(ctx, q.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, delivery.TargetURL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return fmt.Errorf("webhook request creation failed: url='%s', error=%w", delivery.TargetURL, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, delivery.Signature)
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", delivery.SignedAt.Unix()))
	req.Header.Set(HeaderEvent, delivery.EventType)
	req.Header.Set(HeaderDeliveryID, delivery.ID.String())

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: url='%s', error=%w", delivery.TargetURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook request failed: url='%s', status_code=%d", delivery.TargetURL, resp.StatusCode)
	}
	return nil
}

/* retryDelay computes the capped exponential backoff for an attempt,
 * jittered ±10% to spread retries from simultaneous failures */
func (q *Queue) retryDelay(attempt int) time.Duration {
	delay := RetryDelay(attempt, q.cfg.BaseBackoff, q.cfg.MaxBackoff)
	jitter := time.Duration(float64(delay) * 0.1 * (rand.Float64()*2 - 1))
	return delay + jitter
}

/* RetryDelay is the deterministic part of the backoff schedule:
 * base * 2^attempt, capped at max */
func RetryDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

/* Requeue resets a dead or failed delivery and re-signs its payload with
 * the current secret */
func (q *Queue) Requeue(ctx context.Context, deliveryID uuid.UUID) (*db.WebhookDelivery, error) {
	delivery, err := q.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeliveryNotFound, deliveryID)
		}
		return nil, err
	}
	if delivery.Status != db.DeliveryDead && delivery.Status != db.DeliveryFailed {
		return nil, fmt.Errorf("%w: %s is %s", ErrDeliveryNotRequeueable, deliveryID, delivery.Status)
	}

	now := q.now()
	signature := security.Sign(delivery.Payload, q.cfg.Secret)
	requeued, err := q.store.RequeueDelivery(ctx, deliveryID, signature, now)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			/* Lost a race to a concurrent requeue or delivery */
			return nil, fmt.Errorf("%w: %s", ErrDeliveryNotRequeueable, deliveryID)
		}
		return nil, err
	}

	metrics.InfoWithContext(metrics.WithDeliveryIDLogContext(ctx, deliveryID), "Webhook delivery requeued", map[string]interface{}{
		"event_type": requeued.EventType,
	})
	return requeued, nil
}

func targetHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
