/*-------------------------------------------------------------------------
 *
 * errors.go
 *    Typed errors for the approval orchestrator API boundary
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/approval/errors.go
 *
 *-------------------------------------------------------------------------
 */

package approval

import "errors"

var (
	/* ErrApprovalNotFound marks lookups on missing approvals (404-class) */
	ErrApprovalNotFound = errors.New("approval request not found")

	/* ErrApprovalAlreadyProcessed marks attempts to resolve an approval
	 * that already reached a terminal state. It is a conflict, not a
	 * retryable failure; the timeout sweeper treats it as a no-op. */
	ErrApprovalAlreadyProcessed = errors.New("approval request already processed")

	/* ErrInvalidRequest marks malformed creation parameters */
	ErrInvalidRequest = errors.New("invalid approval request")

	/* ErrApprovalNotResolved marks resend attempts on approvals that have
	 * not reached a terminal state yet */
	ErrApprovalNotResolved = errors.New("approval request is not resolved")
)
