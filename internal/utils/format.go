/*-------------------------------------------------------------------------
 *
 * format.go
 *    Formatting helpers for error context strings
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/utils/format.go
 *
 *-------------------------------------------------------------------------
 */

package utils

import (
	"fmt"
	"strings"
)

/* FormatConnectionInfo formats database connection details for error messages */
func FormatConnectionInfo(host string, port int, database, user string) string {
	return fmt.Sprintf("host='%s', port=%d, database='%s', user='%s'", host, port, database, user)
}

/* FormatQueryContext formats query details for error messages */
func FormatQueryContext(query string, paramCount int, operation, table string) string {
	compact := strings.Join(strings.Fields(query), " ")
	if len(compact) > 200 {
		compact = compact[:200] + "..."
	}
	return fmt.Sprintf("operation=%s, table='%s', params=%d, query='%s'", operation, table, paramCount, compact)
}
