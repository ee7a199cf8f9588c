/*-------------------------------------------------------------------------
 *
 * engine.go
 *    Auto-approval rule evaluation and scoring
 *
 * Evaluation is a pure function of the active rule set and the resource
 * snapshot: rules are matched in priority-desc, id-asc order, the first
 * rule whose hard criteria hold contributes a weighted score in [0,1],
 * and the thresholds turn the score into a tri-state decision. "No rule
 * decided" is a distinct undecided outcome that falls through to the
 * manual queue, never an implicit rejection.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/rules/engine.go
 *
 *-------------------------------------------------------------------------
 */

package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/outreachforge/approvald/internal/db"
	"github.com/outreachforge/approvald/internal/metrics"
)

/* Decision is the tri-state outcome of a rule evaluation */
type Decision string

const (
	DecisionApprove   Decision = "approve"
	DecisionReject    Decision = "reject"
	DecisionUndecided Decision = "undecided"
)

/* Evaluation is the result of evaluating the active rules for a resource */
type Evaluation struct {
	Decision Decision
	Reason   string
	Score    float64
	RuleID   *int64
}

/* RuleSource provides active rules and the idempotent counter ledger */
type RuleSource interface {
	ListActiveRules(ctx context.Context, approvalType string) ([]db.ApprovalRule, error)
	RecordRuleDecision(ctx context.Context, ruleID int64, approvalID uuid.UUID, outcome string) (bool, error)
}

type Engine struct {
	source RuleSource
}

/* NewEngine creates a rule engine over a rule source */
func NewEngine(source RuleSource) *Engine {
	return &Engine{source: source}
}

/* Evaluate runs the active rules for an approval type against a resource
 * snapshot. Malformed rules are skipped with a warning; evaluation
 * continues with the next rule. */
func (e *Engine) Evaluate(ctx context.Context, approvalType string, resource map[string]interface{}) (Evaluation, error) {
	rules, err := e.source.ListActiveRules(ctx, approvalType)
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to load rules for type '%s': %w", approvalType, err)
	}

	eval := EvaluateRules(ctx, rules, resource)
	metrics.RecordRuleEvaluation(approvalType, string(eval.Decision))
	return eval, nil
}

/* EvaluateRules evaluates an explicit, already-ordered rule set. Split out
 * from Evaluate so the scoring path is testable as a pure function. */
func EvaluateRules(ctx context.Context, rules []db.ApprovalRule, resource map[string]interface{}) Evaluation {
	for _, rule := range rules {
		criteria, err := parseCriteria(rule.Criteria)
		if err != nil {
			metrics.WarnWithContext(ctx, "Skipping malformed approval rule", map[string]interface{}{
				"rule_id":   rule.ID,
				"rule_name": rule.Name,
				"error":     err.Error(),
			})
			continue
		}

		if !criteria.Satisfied(resource) {
			continue
		}

		score := scoreResource(rule.Weights, resource)
		ruleID := rule.ID

		if rule.AutoApprove && score >= rule.AutoApproveThreshold {
			return Evaluation{
				Decision: DecisionApprove,
				Reason: fmt.Sprintf("score %.3f >= auto-approve threshold %.3f (rule '%s')",
					score, rule.AutoApproveThreshold, rule.Name),
				Score:  score,
				RuleID: &ruleID,
			}
		}

		if rule.AutoRejectThreshold != nil && score <= *rule.AutoRejectThreshold {
			return Evaluation{
				Decision: DecisionReject,
				Reason: fmt.Sprintf("score %.3f <= auto-reject threshold %.3f (rule '%s')",
					score, *rule.AutoRejectThreshold, rule.Name),
				Score:  score,
				RuleID: &ruleID,
			}
		}

		return Evaluation{
			Decision: DecisionUndecided,
			Reason:   fmt.Sprintf("score %.3f within manual review band (rule '%s')", score, rule.Name),
			Score:    score,
			RuleID:   &ruleID,
		}
	}

	return Evaluation{
		Decision: DecisionUndecided,
		Reason:   "no matching rule",
		Score:    0,
	}
}

/* scoreResource computes the weighted score over the configured dimensions,
 * clamped to [0,1]. Each dimension reads a numeric resource field that is
 * itself expected in [0,1]; missing or non-numeric fields score zero.
 * Rules without weights fall back to the quality_score field alone. */
func scoreResource(weights db.JSONBMap, resource map[string]interface{}) float64 {
	dims := make(map[string]float64)
	for field, raw := range weights {
		w, ok := toFloat(raw)
		if !ok || w <= 0 {
			continue
		}
		dims[field] = w
	}
	if len(dims) == 0 {
		dims["quality_score"] = 1
	}

	var weighted, total float64
	for field, w := range dims {
		total += w
		value, ok := toFloat(resource[field])
		if !ok {
			continue
		}
		weighted += w * clamp01(value)
	}
	if total == 0 {
		return 0
	}
	return clamp01(weighted / total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

/* RecordDecision increments the matched rule's counter for an approval.
 * Re-recording the same approval is a no-op, so retried resolutions never
 * double count. */
func (e *Engine) RecordDecision(ctx context.Context, ruleID int64, approvalID uuid.UUID, decision Decision) error {
	outcome, err := ruleOutcome(decision)
	if err != nil {
		return err
	}

	applied, err := e.source.RecordRuleDecision(ctx, ruleID, approvalID, outcome)
	if err != nil {
		return fmt.Errorf("failed to record rule decision: rule_id=%d, approval_id='%s', error=%w",
			ruleID, approvalID.String(), err)
	}
	if !applied {
		metrics.DebugWithContext(ctx, "Rule decision already counted", map[string]interface{}{
			"rule_id":     ruleID,
			"approval_id": approvalID.String(),
		})
	}
	return nil
}

func ruleOutcome(decision Decision) (string, error) {
	switch decision {
	case DecisionApprove:
		return db.RuleOutcomeAutoApproved, nil
	case DecisionReject:
		return db.RuleOutcomeAutoRejected, nil
	case DecisionUndecided:
		return db.RuleOutcomeManualReview, nil
	}
	return "", errors.New("unknown rule decision: " + string(decision))
}
