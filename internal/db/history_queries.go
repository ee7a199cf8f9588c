/*-------------------------------------------------------------------------
 *
 * history_queries.go
 *    Database queries for the approval audit trail
 *
 * History is append-only: there is no update or delete path, and entries
 * are read back in insertion order.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/db/history_queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"

	"github.com/google/uuid"
)

const (
	appendHistoryQuery = `
		INSERT INTO approvald.approval_history (approval_id, from_state, to_state, actor, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	listHistoryQuery = `
		SELECT * FROM approvald.approval_history
		WHERE approval_id = $1
		ORDER BY id ASC`
)

/* AppendHistory appends an audit entry for an approval transition */
func (q *Queries) AppendHistory(ctx context.Context, entry *ApprovalHistoryEntry) error {
	params := []interface{}{entry.ApprovalID, entry.FromState, entry.ToState, entry.Actor, entry.Reason}
	err := q.DB.QueryRowxContext(ctx, appendHistoryQuery, params...).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return q.formatQueryError("INSERT", appendHistoryQuery, len(params), "approvald.approval_history", err)
	}
	return nil
}

/* ListHistory lists the audit trail for an approval in insertion order */
func (q *Queries) ListHistory(ctx context.Context, approvalID uuid.UUID) ([]ApprovalHistoryEntry, error) {
	var entries []ApprovalHistoryEntry
	err := q.DB.SelectContext(ctx, &entries, listHistoryQuery, approvalID)
	if err != nil {
		return nil, q.formatQueryError("SELECT", listHistoryQuery, 1, "approvald.approval_history", err)
	}
	return entries, nil
}
