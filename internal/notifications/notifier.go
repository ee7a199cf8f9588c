/*-------------------------------------------------------------------------
 *
 * notifier.go
 *    One-way notification consumer interface
 *
 * The orchestrator publishes lifecycle events; notifiers consume them and
 * never call back. Notification failures are logged and dropped, they
 * never roll back or fail an approval transition.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/notifications/notifier.go
 *
 *-------------------------------------------------------------------------
 */

package notifications

import (
	"context"

	"github.com/outreachforge/approvald/internal/db"
	"github.com/outreachforge/approvald/internal/metrics"
)

/* Notifier consumes approval lifecycle events. Implementations receive
 * value snapshots and must not re-enter the orchestrator. */
type Notifier interface {
	OnCreated(ctx context.Context, approval db.ApprovalRequest)
	OnResolved(ctx context.Context, approval db.ApprovalRequest)
	OnEscalated(ctx context.Context, approval db.ApprovalRequest)
	OnTimeout(ctx context.Context, approval db.ApprovalRequest)
}

/* LogNotifier logs lifecycle events, used when no channel is configured */
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) OnCreated(ctx context.Context, approval db.ApprovalRequest) {
	n.log(ctx, "Approval created", approval)
}

func (n *LogNotifier) OnResolved(ctx context.Context, approval db.ApprovalRequest) {
	n.log(ctx, "Approval resolved", approval)
}

func (n *LogNotifier) OnEscalated(ctx context.Context, approval db.ApprovalRequest) {
	n.log(ctx, "Approval escalated", approval)
}

func (n *LogNotifier) OnTimeout(ctx context.Context, approval db.ApprovalRequest) {
	n.log(ctx, "Approval timed out", approval)
}

func (n *LogNotifier) log(ctx context.Context, message string, approval db.ApprovalRequest) {
	metrics.InfoWithContext(ctx, message, map[string]interface{}{
		"approval_id":   approval.ID.String(),
		"approval_type": approval.ApprovalType,
		"status":        approval.Status,
	})
}
