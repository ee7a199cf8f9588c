/*-------------------------------------------------------------------------
 *
 * models.go
 *    Database models for approvald
 *
 * Defines data structures for approval requests, auto-approval rules,
 * webhook deliveries, approval history, and rate limit windows.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/db/models.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

/* Approval request statuses */
const (
	StatusPending   = "pending"
	StatusEscalated = "escalated"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusTimeout   = "timeout"
)

/* Resolution methods */
const (
	MethodAuto    = "auto"
	MethodManual  = "manual"
	MethodTimeout = "timeout"
)

/* Webhook delivery statuses */
const (
	DeliveryQueued     = "queued"
	DeliveryProcessing = "processing"
	DeliveryCompleted  = "completed"
	DeliveryFailed     = "failed"
	DeliveryDead       = "dead"
)

type ApprovalRequest struct {
	ID                  uuid.UUID  `db:"id"`
	ApprovalType        string     `db:"approval_type"`
	ResourceID          string     `db:"resource_id"`
	ResourceData        JSONBMap   `db:"resource_data"`
	WorkflowExecutionID string     `db:"workflow_execution_id"`
	Status              string     `db:"status"`
	ResolutionMethod    *string    `db:"resolution_method"`
	Score               *float64   `db:"score"`
	Reviewer            *string    `db:"reviewer"`
	Comments            *string    `db:"comments"`
	ResumeURL           string     `db:"resume_url"`
	Approvers           pq.StringArray `db:"approvers"`
	EscalationLevel     int        `db:"escalation_level"`
	EscalatedTo         *string    `db:"escalated_to"`
	TimeoutAt           time.Time  `db:"timeout_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
	ResolvedAt          *time.Time `db:"resolved_at"`
}

/* IsTerminal reports whether the request reached a terminal state */
func (a *ApprovalRequest) IsTerminal() bool {
	switch a.Status {
	case StatusApproved, StatusRejected, StatusTimeout:
		return true
	}
	return false
}

type ApprovalRule struct {
	ID                   int64          `db:"id"`
	Name                 string         `db:"name"`
	ApprovalTypes        pq.StringArray `db:"approval_types"`
	Criteria             JSONBMap       `db:"criteria"`
	Weights              JSONBMap       `db:"weights"`
	AutoApprove          bool           `db:"auto_approve"`
	AutoApproveThreshold float64        `db:"auto_approve_threshold"`
	AutoRejectThreshold  *float64       `db:"auto_reject_threshold"`
	Priority             int            `db:"priority"`
	IsActive             bool           `db:"is_active"`
	TimesTriggered       int64          `db:"times_triggered"`
	AutoApprovedCount    int64          `db:"auto_approved_count"`
	AutoRejectedCount    int64          `db:"auto_rejected_count"`
	ManualReviewCount    int64          `db:"manual_review_count"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

type WebhookDelivery struct {
	ID            uuid.UUID  `db:"id"`
	ApprovalID    uuid.UUID  `db:"approval_id"`
	TargetURL     string     `db:"target_url"`
	EventType     string     `db:"event_type"`
	Payload       []byte     `db:"payload"`
	Signature     string     `db:"signature"`
	SignedAt      time.Time  `db:"signed_at"`
	Status        string     `db:"status"`
	AttemptCount  int        `db:"attempt_count"`
	MaxAttempts   int        `db:"max_attempts"`
	NextAttemptAt time.Time  `db:"next_attempt_at"`
	LastError     *string    `db:"last_error"`
	CreatedAt     time.Time  `db:"created_at"`
	CompletedAt   *time.Time `db:"completed_at"`
}

type ApprovalHistoryEntry struct {
	ID         int64     `db:"id"`
	ApprovalID uuid.UUID `db:"approval_id"`
	FromState  string    `db:"from_state"`
	ToState    string    `db:"to_state"`
	Actor      string    `db:"actor"`
	Reason     *string   `db:"reason"`
	CreatedAt  time.Time `db:"created_at"`
}

/* ApprovalStatistics aggregates resolution counts */
type ApprovalStatistics struct {
	Total         int64 `db:"total"`
	Pending       int64 `db:"pending"`
	Escalated     int64 `db:"escalated"`
	Approved      int64 `db:"approved"`
	Rejected      int64 `db:"rejected"`
	TimedOut      int64 `db:"timed_out"`
	AutoResolved  int64 `db:"auto_resolved"`
	ManualResolved int64 `db:"manual_resolved"`
}

/* AutoResolutionRate returns auto-resolved / total, 0 when empty */
func (s ApprovalStatistics) AutoResolutionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.AutoResolved) / float64(s.Total)
}

/* RateLimitSlot is the result of an atomic sliding-window check */
type RateLimitSlot struct {
	Allowed   bool
	Count     int
	OldestAge time.Duration
}
