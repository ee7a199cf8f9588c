/*-------------------------------------------------------------------------
 *
 * slack.go
 *    Slack incoming-webhook notifier
 *
 * Posts approval lifecycle messages to a Slack incoming webhook. Send
 * failures are logged and swallowed.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/notifications/slack.go
 *
 *-------------------------------------------------------------------------
 */

package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/outreachforge/approvald/internal/db"
	"github.com/outreachforge/approvald/internal/metrics"
)

/* SlackNotifier posts lifecycle messages to a Slack incoming webhook */
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

/* NewSlackNotifier creates a Slack notifier */
func NewSlackNotifier(webhookURL string, timeout time.Duration) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (n *SlackNotifier) OnCreated(ctx context.Context, approval db.ApprovalRequest) {
	text := fmt.Sprintf(":hourglass: Approval needed: %s for %s (times out %s)",
		approval.ApprovalType, approval.ResourceID, approval.TimeoutAt.Format(time.RFC3339))
	n.post(ctx, approval, text)
}

func (n *SlackNotifier) OnResolved(ctx context.Context, approval db.ApprovalRequest) {
	emoji := ":white_check_mark:"
	if approval.Status == db.StatusRejected {
		emoji = ":x:"
	}
	method := ""
	if approval.ResolutionMethod != nil {
		method = *approval.ResolutionMethod
	}
	text := fmt.Sprintf("%s Approval %s: %s for %s (%s)",
		emoji, approval.Status, approval.ApprovalType, approval.ResourceID, method)
	n.post(ctx, approval, text)
}

func (n *SlackNotifier) OnEscalated(ctx context.Context, approval db.ApprovalRequest) {
	target := ""
	if approval.EscalatedTo != nil {
		target = *approval.EscalatedTo
	}
	text := fmt.Sprintf(":rotating_light: Approval escalated to %s: %s for %s (level %d)",
		target, approval.ApprovalType, approval.ResourceID, approval.EscalationLevel)
	n.post(ctx, approval, text)
}

func (n *SlackNotifier) OnTimeout(ctx context.Context, approval db.ApprovalRequest) {
	text := fmt.Sprintf(":alarm_clock: Approval timed out: %s for %s",
		approval.ApprovalType, approval.ResourceID)
	n.post(ctx, approval, text)
}

func (n *SlackNotifier) post(ctx context.Context, approval db.ApprovalRequest, text string) {
	if n.webhookURL == "" {
		return
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		metrics.ErrorWithContext(ctx, "Slack notification serialization failed", err, nil)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		metrics.ErrorWithContext(ctx, "Slack notification request creation failed", err, nil)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.WarnWithContext(ctx, "Slack notification failed", map[string]interface{}{
			"approval_id": approval.ID.String(),
			"error":       err.Error(),
		})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.WarnWithContext(ctx, "Slack notification rejected", map[string]interface{}{
			"approval_id": approval.ID.String(),
			"status_code": resp.StatusCode,
		})
	}
}
