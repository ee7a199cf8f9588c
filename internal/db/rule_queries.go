/*-------------------------------------------------------------------------
 *
 * rule_queries.go
 *    Database queries for auto-approval rules
 *
 * Rule counter increments are idempotent per approval: a ledger row keyed
 * by (rule_id, approval_id) guards the increment, so retried resolutions
 * count a decision exactly once.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/db/rule_queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

/* Rule decision outcomes recorded in the counter ledger */
const (
	RuleOutcomeAutoApproved = "auto_approved"
	RuleOutcomeAutoRejected = "auto_rejected"
	RuleOutcomeManualReview = "manual_review"
)

/* Auto-approval rule queries */
const (
	listActiveRulesQuery = `
		SELECT * FROM approvald.approval_rules
		WHERE is_active = true AND $1 = ANY(approval_types)
		ORDER BY priority DESC, id ASC`

	getRuleQuery = `SELECT * FROM approvald.approval_rules WHERE id = $1`

	createRuleQuery = `
		INSERT INTO approvald.approval_rules
		(name, approval_types, criteria, weights, auto_approve, auto_approve_threshold,
		 auto_reject_threshold, priority, is_active)
		VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	recordRuleDecisionQuery = `
		WITH ledger AS (
			INSERT INTO approvald.approval_rule_decisions (rule_id, approval_id, outcome)
			VALUES ($1, $2, $3)
			ON CONFLICT (rule_id, approval_id) DO NOTHING
			RETURNING 1
		)
		UPDATE approvald.approval_rules
		SET times_triggered = times_triggered + 1,
			auto_approved_count = auto_approved_count + CASE WHEN $3 = 'auto_approved' THEN 1 ELSE 0 END,
			auto_rejected_count = auto_rejected_count + CASE WHEN $3 = 'auto_rejected' THEN 1 ELSE 0 END,
			manual_review_count = manual_review_count + CASE WHEN $3 = 'manual_review' THEN 1 ELSE 0 END,
			updated_at = NOW()
		WHERE id = $1 AND EXISTS (SELECT 1 FROM ledger)`
)

/* ListActiveRules lists active rules matching an approval type, ordered
 * priority-desc then id-asc for a deterministic tie-break */
func (q *Queries) ListActiveRules(ctx context.Context, approvalType string) ([]ApprovalRule, error) {
	var rules []ApprovalRule
	err := q.DB.SelectContext(ctx, &rules, listActiveRulesQuery, approvalType)
	if err != nil {
		return nil, q.formatQueryError("SELECT", listActiveRulesQuery, 1, "approvald.approval_rules", err)
	}
	return rules, nil
}

/* GetRule gets a rule by ID */
func (q *Queries) GetRule(ctx context.Context, id int64) (*ApprovalRule, error) {
	var rule ApprovalRule
	err := q.DB.GetContext(ctx, &rule, getRuleQuery, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("approval rule %d not found on %s: %w", id, q.getConnInfoString(), ErrNotFound)
	}
	if err != nil {
		return nil, q.formatQueryError("SELECT", getRuleQuery, 1, "approvald.approval_rules", err)
	}
	return &rule, nil
}

/* CreateRule inserts a rule */
func (q *Queries) CreateRule(ctx context.Context, rule *ApprovalRule) error {
	params := []interface{}{
		rule.Name, rule.ApprovalTypes, rule.Criteria, rule.Weights, rule.AutoApprove,
		rule.AutoApproveThreshold, rule.AutoRejectThreshold, rule.Priority, rule.IsActive,
	}
	err := q.DB.QueryRowxContext(ctx, createRuleQuery, params...).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return q.formatQueryError("INSERT", createRuleQuery, len(params), "approvald.approval_rules", err)
	}
	return nil
}

/* RecordRuleDecision increments exactly one rule counter for an approval.
 * Returns true when the counter was applied, false when this approval was
 * already counted for the rule. */
func (q *Queries) RecordRuleDecision(ctx context.Context, ruleID int64, approvalID uuid.UUID, outcome string) (bool, error) {
	result, err := q.DB.ExecContext(ctx, recordRuleDecisionQuery, ruleID, approvalID, outcome)
	if err != nil {
		return false, q.formatQueryError("UPDATE", recordRuleDecisionQuery, 3, "approvald.approval_rules", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for rule decision on %s: rule_id=%d, approval_id='%s', error=%w",
			q.getConnInfoString(), ruleID, approvalID.String(), err)
	}
	return rowsAffected > 0, nil
}
