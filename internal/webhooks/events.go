/*-------------------------------------------------------------------------
 *
 * events.go
 *    Webhook event types and wire envelope
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/webhooks/events.go
 *
 *-------------------------------------------------------------------------
 */

package webhooks

/* EventType identifies a webhook event */
type EventType string

const (
	EventApprovalApproved EventType = "approval.approved"
	EventApprovalRejected EventType = "approval.rejected"
	EventApprovalTimeout  EventType = "approval.timeout"
)

/* Outbound header names */
const (
	HeaderSignature  = "X-Webhook-Signature-256"
	HeaderTimestamp  = "X-Webhook-Timestamp"
	HeaderEvent      = "X-Webhook-Event"
	HeaderDeliveryID = "X-Webhook-Delivery-ID"
)

/* Envelope is the JSON body delivered to resume targets. The pipeline
 * correlates back to its paused step via data.approval_id. */
type Envelope struct {
	EventType EventType              `json:"event_type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}
