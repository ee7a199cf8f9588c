/*-------------------------------------------------------------------------
 *
 * main.go
 *    Main entry point for approvalctl
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/cli/main.go
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"github.com/outreachforge/approvald/cli/cmd"
)

func main() {
	cmd.Execute()
}
