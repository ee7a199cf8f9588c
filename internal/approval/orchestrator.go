/*-------------------------------------------------------------------------
 *
 * orchestrator.go
 *    Approval lifecycle orchestration
 *
 * The orchestrator owns the approval state machine. Creation snapshots
 * the resource payload, evaluates auto-approval rules synchronously and
 * persists the request already resolved when a rule decided; everything
 * else lands in the pending queue. All terminal transitions go through
 * the storage-layer compare-and-swap, so concurrent reviewers, bulk
 * approvals and the timeout sweeper race safely: exactly one writer
 * wins, the rest observe ErrApprovalAlreadyProcessed.
 *
 * Every terminal transition produces exactly one webhook delivery and
 * an append-only history entry. Channel notifications are best-effort
 * and never block or fail the transition.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/approval/orchestrator.go
 *
 *-------------------------------------------------------------------------
 */

package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/outreachforge/approvald/internal/db"
	"github.com/outreachforge/approvald/internal/metrics"
	"github.com/outreachforge/approvald/internal/notifications"
	"github.com/outreachforge/approvald/internal/rules"
	"github.com/outreachforge/approvald/internal/utils"
	"github.com/outreachforge/approvald/internal/webhooks"
)

/* Store is the persistence surface the orchestrator needs. *db.Queries
 * implements it; tests substitute an in-memory fake. */
type Store interface {
	CreateApproval(ctx context.Context, req *db.ApprovalRequest) error
	GetApproval(ctx context.Context, id uuid.UUID) (*db.ApprovalRequest, error)
	ResolveApproval(ctx context.Context, id uuid.UUID, status, method string, reviewer, comments *string) (*db.ApprovalRequest, db.ResolveOutcome, error)
	EscalateApproval(ctx context.Context, id uuid.UUID, level int, escalatedTo string) (*db.ApprovalRequest, db.ResolveOutcome, error)
	ExpireApprovals(ctx context.Context, now time.Time) ([]db.ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context, approvalType *string, limit, offset int) ([]db.ApprovalRequest, error)
	ListEscalationDue(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]db.ApprovalRequest, error)
	GetApprovalStatistics(ctx context.Context) (*db.ApprovalStatistics, error)
	AppendHistory(ctx context.Context, entry *db.ApprovalHistoryEntry) error
	ListHistory(ctx context.Context, approvalID uuid.UUID) ([]db.ApprovalHistoryEntry, error)
}

/* Enqueuer inserts signed webhook deliveries. *webhooks.Queue implements it. */
type Enqueuer interface {
	Enqueue(ctx context.Context, approvalID uuid.UUID, targetURL string, eventType webhooks.EventType, data map[string]interface{}) (uuid.UUID, error)
}

/* DefaultTimeout applies when a creation request does not carry an
 * explicit timeout. */
const DefaultTimeout = 24 * time.Hour

type Orchestrator struct {
	store    Store
	engine   *rules.Engine
	queue    Enqueuer
	notifier notifications.Notifier

	/* injectable clock for tests */
	now func() time.Time
}

func NewOrchestrator(store Store, engine *rules.Engine, queue Enqueuer, notifier notifications.Notifier) *Orchestrator {
	if notifier == nil {
		notifier = notifications.NewLogNotifier()
	}
	return &Orchestrator{
		store:    store,
		engine:   engine,
		queue:    queue,
		notifier: notifier,
		now:      time.Now,
	}
}

/* CreateParams are the creation inputs supplied by the pipeline. */
type CreateParams struct {
	ApprovalType        string                 `json:"approval_type"`
	ResourceID          string                 `json:"resource_id"`
	ResourceData        map[string]interface{} `json:"resource_data"`
	WorkflowExecutionID string                 `json:"workflow_execution_id"`
	ResumeURL           string                 `json:"resume_url"`
	Approvers           []string               `json:"approvers"`
	TimeoutMinutes      *int                   `json:"timeout_minutes"`
}

func (p *CreateParams) validate() error {
	if strings.TrimSpace(p.ApprovalType) == "" {
		return fmt.Errorf("%w: approval_type is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(p.ResourceID) == "" {
		return fmt.Errorf("%w: resource_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(p.ResumeURL) == "" {
		return fmt.Errorf("%w: resume_url is required", ErrInvalidRequest)
	}
	if !strings.HasPrefix(p.ResumeURL, "http://") && !strings.HasPrefix(p.ResumeURL, "https://") {
		return fmt.Errorf("%w: resume_url must be an absolute http(s) URL", ErrInvalidRequest)
	}
	if p.TimeoutMinutes != nil && *p.TimeoutMinutes < 0 {
		return fmt.Errorf("%w: timeout_minutes must not be negative", ErrInvalidRequest)
	}
	return nil
}

func (p *CreateParams) timeout() time.Duration {
	if p.TimeoutMinutes == nil {
		return DefaultTimeout
	}
	return time.Duration(*p.TimeoutMinutes) * time.Minute
}

/* CreateRequest snapshots the resource, evaluates the active rules and
 * persists the request. When a rule decides, the row is written already
 * terminal and the resolution webhook is enqueued in the same call;
 * undecided outcomes land in the pending queue untouched.
 *
 * A rule-loading failure degrades to the manual queue instead of failing
 * the creation: the pipeline must never lose a handoff because the rule
 * table was briefly unreadable. */
func (o *Orchestrator) CreateRequest(ctx context.Context, p CreateParams) (*db.ApprovalRequest, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	now := o.now()
	snapshot := db.FromMap(p.ResourceData).DeepCopy()

	eval, err := o.engine.Evaluate(ctx, p.ApprovalType, snapshot)
	if err != nil {
		metrics.WarnWithContext(ctx, "rule evaluation unavailable, routing to manual queue", map[string]interface{}{
			"approval_type": p.ApprovalType,
			"resource_id":   p.ResourceID,
			"error":         err.Error(),
		})
		eval = rules.Evaluation{Decision: rules.DecisionUndecided, Reason: "rule evaluation unavailable"}
	}

	req := &db.ApprovalRequest{
		ID:                  utils.GenerateUUID(),
		ApprovalType:        p.ApprovalType,
		ResourceID:          p.ResourceID,
		ResourceData:        snapshot,
		WorkflowExecutionID: p.WorkflowExecutionID,
		Status:              db.StatusPending,
		ResumeURL:           p.ResumeURL,
		Approvers:           p.Approvers,
		TimeoutAt:           now.Add(p.timeout()),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if eval.RuleID != nil {
		score := eval.Score
		req.Score = &score
	}

	var event webhooks.EventType
	switch eval.Decision {
	case rules.DecisionApprove:
		req.Status = db.StatusApproved
		event = webhooks.EventApprovalApproved
	case rules.DecisionReject:
		req.Status = db.StatusRejected
		event = webhooks.EventApprovalRejected
	}
	if req.Status != db.StatusPending {
		method := db.MethodAuto
		reason := eval.Reason
		resolvedAt := now
		req.ResolutionMethod = &method
		req.Comments = &reason
		req.ResolvedAt = &resolvedAt
	}

	if err := o.store.CreateApproval(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to persist approval request: %w", err)
	}
	metrics.RecordApprovalCreated(req.ApprovalType, req.Status)

	o.appendHistory(ctx, req.ID, "", db.StatusPending, "pipeline", "approval requested")

	if eval.RuleID != nil {
		if err := o.engine.RecordDecision(ctx, *eval.RuleID, req.ID, eval.Decision); err != nil {
			metrics.WarnWithContext(ctx, "failed to record rule decision counter", map[string]interface{}{
				"rule_id":     *eval.RuleID,
				"approval_id": req.ID.String(),
				"error":       err.Error(),
			})
		}
	}

	if req.IsTerminal() {
		actor := "rule"
		if eval.RuleID != nil {
			actor = fmt.Sprintf("rule:%d", *eval.RuleID)
		}
		o.appendHistory(ctx, req.ID, db.StatusPending, req.Status, actor, eval.Reason)
		metrics.RecordApprovalResolved(req.Status, db.MethodAuto)

		if _, err := o.enqueueResolution(ctx, req, event); err != nil {
			return nil, err
		}
		o.notifyAsync(ctx, o.notifier.OnResolved, req)
	} else {
		o.notifyAsync(ctx, o.notifier.OnCreated, req)
	}

	metrics.InfoWithContext(ctx, "approval request created", map[string]interface{}{
		"approval_id":   req.ID.String(),
		"approval_type": req.ApprovalType,
		"resource_id":   req.ResourceID,
		"status":        req.Status,
	})
	return req, nil
}

/* SubmitDecision resolves a pending or escalated approval by a human
 * reviewer. Exactly one caller wins the compare-and-swap; a caller that
 * finds the approval already terminal gets ErrApprovalAlreadyProcessed. */
func (o *Orchestrator) SubmitDecision(ctx context.Context, id uuid.UUID, approved bool, reviewer, comments string) (*db.ApprovalRequest, error) {
	if strings.TrimSpace(reviewer) == "" {
		return nil, fmt.Errorf("%w: reviewer_email is required", ErrInvalidRequest)
	}

	status := db.StatusRejected
	event := webhooks.EventApprovalRejected
	if approved {
		status = db.StatusApproved
		event = webhooks.EventApprovalApproved
	}

	var commentsPtr *string
	if comments != "" {
		commentsPtr = &comments
	}

	req, outcome, err := o.store.ResolveApproval(ctx, id, status, db.MethodManual, &reviewer, commentsPtr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve approval %s: %w", id, err)
	}
	switch outcome {
	case db.OutcomeNotFound:
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	case db.OutcomeConflict:
		return nil, fmt.Errorf("%w: %s", ErrApprovalAlreadyProcessed, id)
	}

	o.appendHistory(ctx, req.ID, priorState(req), status, reviewer, comments)
	metrics.RecordApprovalResolved(status, db.MethodManual)

	if _, err := o.enqueueResolution(ctx, req, event); err != nil {
		return nil, err
	}
	o.notifyAsync(ctx, o.notifier.OnResolved, req)

	metrics.InfoWithContext(ctx, "approval resolved by reviewer", map[string]interface{}{
		"approval_id": req.ID.String(),
		"status":      status,
		"reviewer":    reviewer,
	})
	return req, nil
}

/* Escalate raises a pending approval to the next escalation level. The
 * approval stays resolvable; only terminal states block escalation. */
func (o *Orchestrator) Escalate(ctx context.Context, id uuid.UUID, escalatedTo string) (*db.ApprovalRequest, error) {
	current, err := o.store.GetApproval(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
		}
		return nil, err
	}

	req, outcome, err := o.store.EscalateApproval(ctx, id, current.EscalationLevel+1, escalatedTo)
	if err != nil {
		return nil, fmt.Errorf("failed to escalate approval %s: %w", id, err)
	}
	switch outcome {
	case db.OutcomeNotFound:
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	case db.OutcomeConflict:
		return nil, fmt.Errorf("%w: %s", ErrApprovalAlreadyProcessed, id)
	}

	o.appendHistory(ctx, req.ID, current.Status, db.StatusEscalated, "sweeper", fmt.Sprintf("escalated to %s", escalatedTo))
	metrics.RecordSweepTransition("escalated")
	o.notifyAsync(ctx, o.notifier.OnEscalated, req)

	metrics.InfoWithContext(ctx, "approval escalated", map[string]interface{}{
		"approval_id":      req.ID.String(),
		"escalation_level": req.EscalationLevel,
		"escalated_to":     escalatedTo,
	})
	return req, nil
}

/* BulkDecisionResult reports the per-id outcome of a bulk approval. */
type BulkDecisionResult struct {
	Resolved []uuid.UUID       `json:"resolved"`
	Failed   map[string]string `json:"failed"`
}

/* BulkApprove applies the same approve decision to a batch of approvals.
 * Each id is resolved independently: already-processed and missing ids
 * are reported per-id, never abort the batch. */
func (o *Orchestrator) BulkApprove(ctx context.Context, ids []uuid.UUID, reviewer, comments string) (*BulkDecisionResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: approval_ids must not be empty", ErrInvalidRequest)
	}

	result := &BulkDecisionResult{Failed: make(map[string]string)}
	for _, id := range ids {
		if _, err := o.SubmitDecision(ctx, id, true, reviewer, comments); err != nil {
			result.Failed[id.String()] = err.Error()
			continue
		}
		result.Resolved = append(result.Resolved, id)
	}
	return result, nil
}

/* CheckTimeouts expires every pending or escalated approval whose
 * deadline passed. The expiry itself is a single set-based CAS, so
 * concurrent sweeper replicas and in-flight reviewer decisions never
 * double-resolve a row: each expired approval is returned by exactly
 * one sweep. */
func (o *Orchestrator) CheckTimeouts(ctx context.Context) (int, error) {
	expired, err := o.store.ExpireApprovals(ctx, o.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire approvals: %w", err)
	}

	for i := range expired {
		req := &expired[i]
		o.appendHistory(ctx, req.ID, priorState(req), db.StatusTimeout, "sweeper", "approval deadline passed")
		metrics.RecordApprovalResolved(db.StatusTimeout, db.MethodTimeout)
		metrics.RecordSweepTransition("timeout")

		if _, err := o.enqueueResolution(ctx, req, webhooks.EventApprovalTimeout); err != nil {
			metrics.ErrorWithContext(ctx, "failed to enqueue timeout webhook", err, map[string]interface{}{
				"approval_id": req.ID.String(),
			})
			continue
		}
		o.notifyAsync(ctx, o.notifier.OnTimeout, req)
	}

	if len(expired) > 0 {
		metrics.InfoWithContext(ctx, "expired approvals past deadline", map[string]interface{}{
			"count": len(expired),
		})
	}
	return len(expired), nil
}

/* EscalateDue escalates pending approvals whose deadline falls inside
 * the lead window, so reviewers get a nudge before the timeout fires.
 * Rows that lose the race to a concurrent resolution are skipped. */
func (o *Orchestrator) EscalateDue(ctx context.Context, lead time.Duration, escalateTo string, limit int) (int, error) {
	due, err := o.store.ListEscalationDue(ctx, o.now(), lead, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list approvals due for escalation: %w", err)
	}

	escalated := 0
	for i := range due {
		req := &due[i]
		if _, err := o.Escalate(ctx, req.ID, escalateTo); err != nil {
			continue
		}
		escalated++
	}
	return escalated, nil
}

/* GetApproval fetches a single approval by id. */
func (o *Orchestrator) GetApproval(ctx context.Context, id uuid.UUID) (*db.ApprovalRequest, error) {
	req, err := o.store.GetApproval(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
		}
		return nil, err
	}
	return req, nil
}

/* GetPendingApprovals lists the manual review queue, oldest first. */
func (o *Orchestrator) GetPendingApprovals(ctx context.Context, approvalType *string, limit, offset int) ([]db.ApprovalRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return o.store.ListPendingApprovals(ctx, approvalType, limit, offset)
}

/* GetHistory returns the append-only audit trail for an approval. */
func (o *Orchestrator) GetHistory(ctx context.Context, id uuid.UUID) ([]db.ApprovalHistoryEntry, error) {
	if _, err := o.GetApproval(ctx, id); err != nil {
		return nil, err
	}
	return o.store.ListHistory(ctx, id)
}

/* GetStatistics returns aggregate counts and the auto-resolution rate. */
func (o *Orchestrator) GetStatistics(ctx context.Context) (*db.ApprovalStatistics, error) {
	return o.store.GetApprovalStatistics(ctx)
}

/* ResendResolution enqueues a fresh resolution webhook for an already
 * terminal approval. This is the recovery path for resolutions whose
 * enqueue failed after the state transition committed; callers are
 * expected to check for existing deliveries first. */
func (o *Orchestrator) ResendResolution(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	req, err := o.GetApproval(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}

	event, ok := resolutionEvent(req.Status)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s is %s", ErrApprovalNotResolved, id, req.Status)
	}

	deliveryID, err := o.enqueueResolution(ctx, req, event)
	if err != nil {
		return uuid.Nil, err
	}

	metrics.InfoWithContext(ctx, "resolution webhook re-enqueued", map[string]interface{}{
		"approval_id": req.ID.String(),
		"delivery_id": deliveryID.String(),
		"event_type":  event,
	})
	return deliveryID, nil
}

/* resolutionEvent maps a terminal status to its webhook event */
func resolutionEvent(status string) (webhooks.EventType, bool) {
	switch status {
	case db.StatusApproved:
		return webhooks.EventApprovalApproved, true
	case db.StatusRejected:
		return webhooks.EventApprovalRejected, true
	case db.StatusTimeout:
		return webhooks.EventApprovalTimeout, true
	}
	return "", false
}

/* enqueueResolution routes exactly one resolution webhook to the resume
 * URL captured at creation. */
func (o *Orchestrator) enqueueResolution(ctx context.Context, req *db.ApprovalRequest, event webhooks.EventType) (uuid.UUID, error) {
	data := map[string]interface{}{
		"approval_id":           req.ID.String(),
		"approval_type":         req.ApprovalType,
		"resource_id":           req.ResourceID,
		"status":                req.Status,
		"workflow_execution_id": req.WorkflowExecutionID,
	}
	if req.ResolutionMethod != nil {
		data["resolution_method"] = *req.ResolutionMethod
	}
	if req.Score != nil {
		data["score"] = *req.Score
	}
	if req.Reviewer != nil {
		data["reviewer"] = *req.Reviewer
	}
	if req.Comments != nil {
		data["comments"] = *req.Comments
	}
	if req.ResolvedAt != nil {
		data["resolved_at"] = req.ResolvedAt.UTC().Format(time.RFC3339)
	}

	deliveryID, err := o.queue.Enqueue(ctx, req.ID, req.ResumeURL, event, data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue resolution webhook for %s: %w", req.ID, err)
	}
	return deliveryID, nil
}

/* appendHistory records an audit entry. History failures are logged,
 * never propagated: the state transition already committed and must not
 * look failed to the caller. */
func (o *Orchestrator) appendHistory(ctx context.Context, id uuid.UUID, from, to, actor, reason string) {
	entry := &db.ApprovalHistoryEntry{
		ApprovalID: id,
		FromState:  from,
		ToState:    to,
		Actor:      actor,
		CreatedAt:  o.now(),
	}
	if reason != "" {
		entry.Reason = &reason
	}
	if err := o.store.AppendHistory(ctx, entry); err != nil {
		metrics.ErrorWithContext(ctx, "failed to append approval history", err, map[string]interface{}{
			"approval_id": id.String(),
			"to_state":    to,
		})
	}
}

/* notifyAsync fires a channel notification without blocking the caller.
 * The context is detached so an already-finished request does not cancel
 * the notification mid-flight. */
func (o *Orchestrator) notifyAsync(ctx context.Context, fn func(context.Context, db.ApprovalRequest), req *db.ApprovalRequest) {
	detached := context.WithoutCancel(ctx)
	snapshot := *req
	go fn(detached, snapshot)
}

/* priorState infers the pre-transition state from the resolved row. The
 * CAS update cannot return the old status, but escalation level zero
 * can only mean pending. */
func priorState(req *db.ApprovalRequest) string {
	if req.EscalationLevel > 0 {
		return db.StatusEscalated
	}
	return db.StatusPending
}
