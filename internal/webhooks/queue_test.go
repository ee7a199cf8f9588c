/*-------------------------------------------------------------------------
 *
 * queue_test.go
 *    Tests for the durable webhook delivery queue
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/webhooks/queue_test.go
 *
 *-------------------------------------------------------------------------
 */

package webhooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/outreachforge/approvald/internal/db"
	"github.com/outreachforge/approvald/internal/ratelimit"
	"github.com/outreachforge/approvald/internal/security"
)

var (
	_ DeliveryStore = (*db.Queries)(nil)
	_ SendLimiter   = (*ratelimit.Limiter)(nil)
)

/* memoryDeliveryStore reproduces the delivery-state transitions in memory,
 * including the claim lease stamped into next_attempt_at */
type memoryDeliveryStore struct {
	mu            sync.Mutex
	deliveries    map[uuid.UUID]*db.WebhookDelivery
	markFailedErr error
}

func newMemoryDeliveryStore() *memoryDeliveryStore {
	return &memoryDeliveryStore{deliveries: make(map[uuid.UUID]*db.WebhookDelivery)}
}

func (s *memoryDeliveryStore) InsertDelivery(ctx context.Context, d *db.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *d
	copied.Status = db.DeliveryQueued
	s.deliveries[d.ID] = &copied
	return nil
}

func (s *memoryDeliveryStore) GetDelivery(ctx context.Context, id uuid.UUID) (*db.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery '%s': %w", id, db.ErrNotFound)
	}
	copied := *d
	return &copied, nil
}

func (s *memoryDeliveryStore) ClaimDeliveries(ctx context.Context, now time.Time, lease time.Duration, n int) ([]db.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []db.WebhookDelivery
	for _, d := range s.deliveries {
		if len(claimed) >= n {
			break
		}
		claimable := d.Status == db.DeliveryQueued || d.Status == db.DeliveryFailed ||
			d.Status == db.DeliveryProcessing
		if claimable && !d.NextAttemptAt.After(now) {
			d.Status = db.DeliveryProcessing
			d.NextAttemptAt = now.Add(lease)
			claimed = append(claimed, *d)
		}
	}
	return claimed, nil
}

func (s *memoryDeliveryStore) MarkDelivered(ctx context.Context, id uuid.UUID, attemptCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.deliveries[id]
	d.Status = db.DeliveryCompleted
	d.AttemptCount = attemptCount
	now := time.Now()
	d.CompletedAt = &now
	return nil
}

func (s *memoryDeliveryStore) MarkFailed(ctx context.Context, id uuid.UUID, status string, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markFailedErr != nil {
		err := s.markFailedErr
		s.markFailedErr = nil
		return err
	}
	d := s.deliveries[id]
	d.Status = status
	d.AttemptCount = attemptCount
	d.NextAttemptAt = nextAttemptAt
	d.LastError = &lastError
	return nil
}

func (s *memoryDeliveryStore) DeferDelivery(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.deliveries[id]
	d.Status = db.DeliveryQueued
	d.NextAttemptAt = nextAttemptAt
	return nil
}

func (s *memoryDeliveryStore) RequeueDelivery(ctx context.Context, id uuid.UUID, signature string, signedAt time.Time) (*db.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok || (d.Status != db.DeliveryDead && d.Status != db.DeliveryFailed) {
		return nil, fmt.Errorf("delivery '%s': %w", id, db.ErrNotFound)
	}
	d.Status = db.DeliveryQueued
	d.AttemptCount = 0
	d.NextAttemptAt = time.Now()
	d.Signature = signature
	d.SignedAt = signedAt
	d.LastError = nil
	copied := *d
	return &copied, nil
}

func (s *memoryDeliveryStore) get(id uuid.UUID) db.WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.deliveries[id]
}

func testQueue(store DeliveryStore, secret string) *Queue {
	return NewQueue(store, nil, QueueConfig{
		Secret:         secret,
		MaxAttempts:    3,
		BaseBackoff:    time.Second,
		MaxBackoff:     time.Minute,
		RequestTimeout: 5 * time.Second,
	})
}

/* TestEnqueueSignsAtEnqueueTime verifies the payload and signature are
 * frozen when the delivery is created, not when it is sent */
func TestEnqueueSignsAtEnqueueTime(t *testing.T) {
	store := newMemoryDeliveryStore()
	queue := testQueue(store, "original-secret")

	id, err := queue.Enqueue(context.Background(), uuid.New(), "http://example.com/resume", EventApprovalApproved, map[string]interface{}{
		"approval_id": "a1",
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d := store.get(id)
	if d.Signature == "" {
		t.Fatal("Expected signature at enqueue time")
	}
	if !security.Verify(d.Payload, d.Signature, "original-secret") {
		t.Error("Expected stored signature to verify against stored payload")
	}

	/* A secret rotation after enqueue must not invalidate the stored
	 * signature; retries resend the stored bytes verbatim */
	queue.cfg.Secret = "rotated-secret"
	d = store.get(id)
	if !security.Verify(d.Payload, d.Signature, "original-secret") {
		t.Error("Expected stored signature to survive secret rotation")
	}
}

func TestProcessBatchDelivers(t *testing.T) {
	var received struct {
		sync.Mutex
		payload   []byte
		signature string
		event     string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Lock()
		defer received.Unlock()
		body, _ := io.ReadAll(r.Body)
		received.payload = body
		received.signature = r.Header.Get(HeaderSignature)
		received.event = r.Header.Get(HeaderEvent)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := newMemoryDeliveryStore()
	queue := testQueue(store, "secret")

	id, err := queue.Enqueue(context.Background(), uuid.New(), server.URL, EventApprovalApproved, map[string]interface{}{
		"approval_id": "a1",
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	result, err := queue.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("Expected 1 processed, got %+v", result)
	}

	d := store.get(id)
	if d.Status != db.DeliveryCompleted {
		t.Errorf("Expected completed status, got %s", d.Status)
	}
	if d.AttemptCount != 1 {
		t.Errorf("Expected attempt count 1, got %d", d.AttemptCount)
	}

	received.Lock()
	defer received.Unlock()
	if received.event != string(EventApprovalApproved) {
		t.Errorf("Expected event header, got %q", received.event)
	}
	if !security.Verify(received.payload, received.signature, "secret") {
		t.Error("Expected received signature to verify the received body")
	}
}

/* TestProcessBatchRetrySchedule verifies a failing target produces a
 * failed delivery with a future retry and an incremented attempt count */
func TestProcessBatchRetrySchedule(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store := newMemoryDeliveryStore()
	queue := testQueue(store, "secret")

	id, _ := queue.Enqueue(context.Background(), uuid.New(), server.URL, EventApprovalRejected, nil)

	before := time.Now()
	result, err := queue.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("Expected 1 failed, got %+v", result)
	}

	d := store.get(id)
	if d.Status != db.DeliveryFailed {
		t.Errorf("Expected failed status, got %s", d.Status)
	}
	if d.AttemptCount != 1 {
		t.Errorf("Expected attempt count 1, got %d", d.AttemptCount)
	}
	if d.LastError == nil || *d.LastError == "" {
		t.Error("Expected last_error to be recorded")
	}
	if !d.NextAttemptAt.After(before) {
		t.Error("Expected next attempt to be scheduled in the future")
	}
}

/* TestDeadLetterAtMaxAttempts verifies the delivery moves to dead on
 * exactly the configured attempt, never before and never after */
func TestDeadLetterAtMaxAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newMemoryDeliveryStore()
	queue := testQueue(store, "secret")

	id, _ := queue.Enqueue(context.Background(), uuid.New(), server.URL, EventApprovalTimeout, nil)

	for attempt := 1; attempt <= 3; attempt++ {
		/* Make the delivery immediately retry-ready again */
		store.mu.Lock()
		store.deliveries[id].NextAttemptAt = time.Now().Add(-time.Second)
		store.mu.Unlock()

		if _, err := queue.ProcessBatch(context.Background(), 10); err != nil {
			t.Fatalf("ProcessBatch failed: %v", err)
		}

		d := store.get(id)
		if d.AttemptCount != attempt {
			t.Fatalf("Expected attempt count %d, got %d", attempt, d.AttemptCount)
		}
		if attempt < 3 && d.Status != db.DeliveryFailed {
			t.Fatalf("Expected failed before max attempts, got %s at attempt %d", d.Status, attempt)
		}
		if attempt == 3 && d.Status != db.DeliveryDead {
			t.Fatalf("Expected dead at max attempts, got %s", d.Status)
		}
	}
}

/* TestAbandonedClaimIsReclaimed verifies a delivery whose bookkeeping
 * write was lost after the claim (worker crash, store blip) becomes
 * claimable again once the lease lapses, instead of sticking in
 * processing forever */
func TestAbandonedClaimIsReclaimed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newMemoryDeliveryStore()
	queue := testQueue(store, "secret")

	id, _ := queue.Enqueue(context.Background(), uuid.New(), server.URL, EventApprovalApproved, nil)

	/* First pass: the send fails and the failure bookkeeping is lost */
	store.mu.Lock()
	store.markFailedErr = errors.New("connection reset")
	store.mu.Unlock()
	if _, err := queue.ProcessBatch(context.Background(), 10); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	d := store.get(id)
	if d.Status != db.DeliveryProcessing {
		t.Fatalf("Expected delivery stuck in processing after lost bookkeeping, got %s", d.Status)
	}

	/* While the lease holds, no pass may claim the row again */
	result, err := queue.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Processed+result.Failed+result.Deferred != 0 {
		t.Fatalf("Expected no claims while the lease holds, got %+v", result)
	}

	/* Once the lease lapses, the row is claimed again and the attempt is
	 * recorded normally */
	queue.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
	result, err = queue.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("Expected the reclaimed delivery to record its failure, got %+v", result)
	}

	d = store.get(id)
	if d.Status != db.DeliveryFailed {
		t.Errorf("Expected failed status after reclaim, got %s", d.Status)
	}
	if d.AttemptCount != 1 {
		t.Errorf("Expected attempt count 1 after reclaim, got %d", d.AttemptCount)
	}
}

func TestRequeueDeadDelivery(t *testing.T) {
	store := newMemoryDeliveryStore()
	queue := testQueue(store, "secret")

	id, _ := queue.Enqueue(context.Background(), uuid.New(), "http://example.com/resume", EventApprovalApproved, nil)
	store.mu.Lock()
	store.deliveries[id].Status = db.DeliveryDead
	store.deliveries[id].AttemptCount = 3
	store.mu.Unlock()

	queue.cfg.Secret = "rotated-secret"
	requeued, err := queue.Requeue(context.Background(), id)
	if err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	if requeued.Status != db.DeliveryQueued {
		t.Errorf("Expected queued status, got %s", requeued.Status)
	}
	if requeued.AttemptCount != 0 {
		t.Errorf("Expected attempt count reset, got %d", requeued.AttemptCount)
	}
	if !security.Verify(requeued.Payload, requeued.Signature, "rotated-secret") {
		t.Error("Expected requeued delivery to carry a fresh signature under the current secret")
	}
}

func TestRequeueRejectsCompletedDelivery(t *testing.T) {
	store := newMemoryDeliveryStore()
	queue := testQueue(store, "secret")

	id, _ := queue.Enqueue(context.Background(), uuid.New(), "http://example.com/resume", EventApprovalApproved, nil)
	store.mu.Lock()
	store.deliveries[id].Status = db.DeliveryCompleted
	store.mu.Unlock()

	if _, err := queue.Requeue(context.Background(), id); !errors.Is(err, ErrDeliveryNotRequeueable) {
		t.Errorf("Expected ErrDeliveryNotRequeueable, got %v", err)
	}

	if _, err := queue.Requeue(context.Background(), uuid.New()); !errors.Is(err, ErrDeliveryNotFound) {
		t.Errorf("Expected ErrDeliveryNotFound, got %v", err)
	}
}

/* TestRateLimitedSendDefers verifies a rate-limited delivery is deferred
 * without consuming an attempt */
func TestRateLimitedSendDefers(t *testing.T) {
	store := newMemoryDeliveryStore()
	queue := NewQueue(store, rejectingLimiter{retryAfter: 30 * time.Second}, QueueConfig{
		Secret:      "secret",
		MaxAttempts: 3,
		BaseBackoff: time.Second,
	})

	id, _ := queue.Enqueue(context.Background(), uuid.New(), "http://example.com/resume", EventApprovalApproved, nil)

	result, err := queue.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Deferred != 1 {
		t.Fatalf("Expected 1 deferred, got %+v", result)
	}

	d := store.get(id)
	if d.Status != db.DeliveryQueued {
		t.Errorf("Expected delivery returned to queue, got %s", d.Status)
	}
	if d.AttemptCount != 0 {
		t.Errorf("Expected no attempt consumed, got %d", d.AttemptCount)
	}
	if !d.NextAttemptAt.After(time.Now().Add(20 * time.Second)) {
		t.Error("Expected next attempt pushed past the rate limit window")
	}
}

type rejectingLimiter struct {
	retryAfter time.Duration
}

func (l rejectingLimiter) Check(ctx context.Context, identifier, endpoint string, limit int, window time.Duration) ratelimit.Result {
	return ratelimit.Result{Allowed: false, RetryAfter: l.retryAfter}
}

/* TestRetryDelaySchedule verifies the exponential schedule doubles per
 * attempt and caps at the maximum */
func TestRetryDelaySchedule(t *testing.T) {
	base := 30 * time.Second
	max := 30 * time.Minute

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{10, 30 * time.Minute},
		{100, 30 * time.Minute},
	}
	for _, c := range cases {
		if got := RetryDelay(c.attempt, base, max); got != c.want {
			t.Errorf("RetryDelay(%d) = %s, want %s", c.attempt, got, c.want)
		}
	}

	/* Monotonic non-decreasing over the whole schedule */
	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := RetryDelay(attempt, base, max)
		if d < prev {
			t.Fatalf("Expected non-decreasing delays, got %s after %s", d, prev)
		}
		prev = d
	}
}
