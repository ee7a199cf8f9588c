/*-------------------------------------------------------------------------
 *
 * queries.go
 *    Query layer plumbing for approvald
 *
 * Hosts the Queries struct shared by all query files and error
 * formatting helpers.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/db/queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/outreachforge/approvald/internal/utils"
)

/* ErrNotFound marks lookups on missing rows */
var ErrNotFound = errors.New("row not found")

/* ResolveOutcome is the result of a conditional state transition.
 *
 * The internal resolution path returns this explicit tri-state instead of an
 * error so that compare-and-swap logic stays unit-testable without
 * exception-driven branching; callers map it to typed errors at the API
 * boundary. */
type ResolveOutcome int

const (
	OutcomeUpdated ResolveOutcome = iota
	OutcomeConflict
	OutcomeNotFound
)

func (o ResolveOutcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeConflict:
		return "conflict"
	case OutcomeNotFound:
		return "not_found"
	}
	return "unknown"
}

type Queries struct {
	DB       *sqlx.DB
	connInfo func() string
}

func NewQueries(db *sqlx.DB) *Queries {
	return &Queries{
		DB: db,
		connInfo: func() string {
			return "unknown database connection"
		},
	}
}

/* SetConnInfoFunc sets a function to retrieve connection info for error messages */
func (q *Queries) SetConnInfoFunc(fn func() string) {
	q.connInfo = fn
}

/* getConnInfoString returns connection info string */
func (q *Queries) getConnInfoString() string {
	if q.connInfo != nil {
		return q.connInfo()
	}
	return "unknown database connection"
}

/* formatQueryError formats a detailed query error message */
func (q *Queries) formatQueryError(operation string, query string, paramCount int, table string, err error) error {
	queryContext := utils.FormatQueryContext(query, paramCount, operation, table)
	connInfo := q.getConnInfoString()
	return fmt.Errorf("query execution failed on %s: %s, error=%w", connInfo, queryContext, err)
}
