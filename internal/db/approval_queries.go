/*-------------------------------------------------------------------------
 *
 * approval_queries.go
 *    Database queries for approval requests
 *
 * All state transitions are single-statement conditional updates: the
 * WHERE clause carries the precondition and RowsAffected decides the
 * outcome, so concurrent resolvers (manual decisions, timeout sweepers
 * on multiple replicas) serialize on the row without external locking.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/db/approval_queries.go
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

/* Approval request queries */
const (
	createApprovalQuery = `
		INSERT INTO approvald.approval_requests
		(id, approval_type, resource_id, resource_data, workflow_execution_id, status,
		 resolution_method, score, reviewer, comments, resume_url, approvers,
		 escalation_level, timeout_at, resolved_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	getApprovalQuery = `SELECT * FROM approvald.approval_requests WHERE id = $1`

	resolveApprovalQuery = `
		UPDATE approvald.approval_requests
		SET status = $2, resolution_method = $3, reviewer = $4, comments = $5,
			resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'escalated')
		RETURNING *`

	escalateApprovalQuery = `
		UPDATE approvald.approval_requests
		SET status = 'escalated', escalation_level = $2, escalated_to = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'escalated') AND escalation_level < $2
		RETURNING *`

	expireApprovalsQuery = `
		UPDATE approvald.approval_requests
		SET status = 'timeout', resolution_method = 'timeout',
			resolved_at = NOW(), updated_at = NOW()
		WHERE status IN ('pending', 'escalated') AND timeout_at <= $1
		RETURNING *`

	listPendingApprovalsQuery = `
		SELECT * FROM approvald.approval_requests
		WHERE status IN ('pending', 'escalated')
		AND ($1::text IS NULL OR approval_type = $1)
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`

	listEscalationDueQuery = `
		SELECT * FROM approvald.approval_requests
		WHERE status = 'pending'
		AND escalation_level = 0
		AND timeout_at > $1
		AND timeout_at - $2::interval <= $1
		ORDER BY timeout_at ASC
		LIMIT $3`

	approvalStatisticsQuery = `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'escalated') AS escalated,
			COUNT(*) FILTER (WHERE status = 'approved') AS approved,
			COUNT(*) FILTER (WHERE status = 'rejected') AS rejected,
			COUNT(*) FILTER (WHERE status = 'timeout') AS timed_out,
			COUNT(*) FILTER (WHERE resolution_method = 'auto') AS auto_resolved,
			COUNT(*) FILTER (WHERE resolution_method = 'manual') AS manual_resolved
		FROM approvald.approval_requests`
)

/* CreateApproval inserts a new approval request */
func (q *Queries) CreateApproval(ctx context.Context, req *ApprovalRequest) error {
	params := []interface{}{
		req.ID, req.ApprovalType, req.ResourceID, req.ResourceData, req.WorkflowExecutionID,
		req.Status, req.ResolutionMethod, req.Score, req.Reviewer, req.Comments,
		req.ResumeURL, req.Approvers, req.EscalationLevel, req.TimeoutAt, req.ResolvedAt,
	}
	err := q.DB.QueryRowxContext(ctx, createApprovalQuery, params...).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return q.formatQueryError("INSERT", createApprovalQuery, len(params), "approvald.approval_requests", err)
	}
	return nil
}

/* GetApproval gets an approval request by ID */
func (q *Queries) GetApproval(ctx context.Context, id uuid.UUID) (*ApprovalRequest, error) {
	var req ApprovalRequest
	err := q.DB.GetContext(ctx, &req, getApprovalQuery, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("approval request '%s' not found on %s: %w",
			id.String(), q.getConnInfoString(), ErrNotFound)
	}
	if err != nil {
		return nil, q.formatQueryError("SELECT", getApprovalQuery, 1, "approvald.approval_requests", err)
	}
	return &req, nil
}

/* ResolveApproval transitions an approval from {pending,escalated} to a
 * terminal state. Exactly one caller wins; losers observe OutcomeConflict. */
func (q *Queries) ResolveApproval(ctx context.Context, id uuid.UUID, status, method string, reviewer, comments *string) (*ApprovalRequest, ResolveOutcome, error) {
	var req ApprovalRequest
	err := q.DB.GetContext(ctx, &req, resolveApprovalQuery, id, status, method, reviewer, comments)
	if err == sql.ErrNoRows {
		outcome, cerr := q.classifyMissedUpdate(ctx, id)
		return nil, outcome, cerr
	}
	if err != nil {
		return nil, OutcomeNotFound, q.formatQueryError("UPDATE", resolveApprovalQuery, 5, "approvald.approval_requests", err)
	}
	return &req, OutcomeUpdated, nil
}

/* EscalateApproval transitions a non-terminal approval to escalated */
func (q *Queries) EscalateApproval(ctx context.Context, id uuid.UUID, level int, escalatedTo string) (*ApprovalRequest, ResolveOutcome, error) {
	var req ApprovalRequest
	err := q.DB.GetContext(ctx, &req, escalateApprovalQuery, id, level, escalatedTo)
	if err == sql.ErrNoRows {
		outcome, cerr := q.classifyMissedUpdate(ctx, id)
		return nil, outcome, cerr
	}
	if err != nil {
		return nil, OutcomeNotFound, q.formatQueryError("UPDATE", escalateApprovalQuery, 3, "approvald.approval_requests", err)
	}
	return &req, OutcomeUpdated, nil
}

/* classifyMissedUpdate distinguishes a CAS conflict from a missing row */
func (q *Queries) classifyMissedUpdate(ctx context.Context, id uuid.UUID) (ResolveOutcome, error) {
	var exists bool
	err := q.DB.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM approvald.approval_requests WHERE id = $1)`, id)
	if err != nil {
		return OutcomeNotFound, q.formatQueryError("SELECT", "SELECT EXISTS(...)", 1, "approvald.approval_requests", err)
	}
	if exists {
		return OutcomeConflict, nil
	}
	return OutcomeNotFound, nil
}

/* ExpireApprovals transitions every overdue non-terminal approval to timeout
 * and returns the transitioned rows. RETURNING only yields rows this
 * statement actually updated, so concurrent sweeper replicas never
 * double-process an approval. */
func (q *Queries) ExpireApprovals(ctx context.Context, now time.Time) ([]ApprovalRequest, error) {
	var expired []ApprovalRequest
	err := q.DB.SelectContext(ctx, &expired, expireApprovalsQuery, now)
	if err != nil {
		return nil, q.formatQueryError("UPDATE", expireApprovalsQuery, 1, "approvald.approval_requests", err)
	}
	return expired, nil
}

/* ListPendingApprovals lists unresolved approval requests */
func (q *Queries) ListPendingApprovals(ctx context.Context, approvalType *string, limit, offset int) ([]ApprovalRequest, error) {
	var reqs []ApprovalRequest
	params := []interface{}{approvalType, limit, offset}
	err := q.DB.SelectContext(ctx, &reqs, listPendingApprovalsQuery, params...)
	if err != nil {
		return nil, q.formatQueryError("SELECT", listPendingApprovalsQuery, len(params), "approvald.approval_requests", err)
	}
	return reqs, nil
}

/* ListEscalationDue lists pending approvals whose escalation lead time has
 * elapsed but that have not timed out yet */
func (q *Queries) ListEscalationDue(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]ApprovalRequest, error) {
	var reqs []ApprovalRequest
	leadStr := fmt.Sprintf("%f seconds", lead.Seconds())
	params := []interface{}{now, leadStr, limit}
	err := q.DB.SelectContext(ctx, &reqs, listEscalationDueQuery, params...)
	if err != nil {
		return nil, q.formatQueryError("SELECT", listEscalationDueQuery, len(params), "approvald.approval_requests", err)
	}
	return reqs, nil
}

/* GetApprovalStatistics returns aggregate resolution counts */
func (q *Queries) GetApprovalStatistics(ctx context.Context) (*ApprovalStatistics, error) {
	var stats ApprovalStatistics
	err := q.DB.GetContext(ctx, &stats, approvalStatisticsQuery)
	if err != nil {
		return nil, q.formatQueryError("SELECT", approvalStatisticsQuery, 0, "approvald.approval_requests", err)
	}
	return &stats, nil
}
