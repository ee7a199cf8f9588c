/*-------------------------------------------------------------------------
 *
 * states.go
 *    Approval state graph and transition validation
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/approval/states.go
 *
 *-------------------------------------------------------------------------
 */

package approval

import "github.com/outreachforge/approvald/internal/db"

/* transitions encodes the full state graph. Terminal states have no
 * outgoing edges; an approval that reached one can never change status
 * again. The database CAS in db.Queries enforces the same graph at the
 * storage layer, this map is the in-process view used for validation
 * and audit entries. */
var transitions = map[string][]string{
	db.StatusPending: {
		db.StatusEscalated,
		db.StatusApproved,
		db.StatusRejected,
		db.StatusTimeout,
	},
	db.StatusEscalated: {
		db.StatusEscalated, /* repeated escalation raises the level */
		db.StatusApproved,
		db.StatusRejected,
		db.StatusTimeout,
	},
	db.StatusApproved: {},
	db.StatusRejected: {},
	db.StatusTimeout:  {},
}

/* ValidTransition reports whether moving from one status to another is
 * allowed by the state graph. */
func ValidTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

/* IsTerminalStatus reports whether a status has no outgoing edges. */
func IsTerminalStatus(status string) bool {
	next, ok := transitions[status]
	return ok && len(next) == 0
}
