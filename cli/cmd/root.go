/*-------------------------------------------------------------------------
 *
 * root.go
 *    Root command and global flags for approvalctl
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/cli/cmd/root.go
 *
 *-------------------------------------------------------------------------
 */

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiURL       string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "approvalctl",
	Short: "approvalctl - review queue and webhook delivery management",
	Long: `approvalctl provides operator commands for the approvald server.

Features:
  - List and inspect pending approval requests
  - Approve or reject requests from the terminal
  - Bulk-approve a batch of requests
  - Inspect and requeue dead webhook deliveries
  - Generate webhook signing secrets

Examples:
  # List the manual review queue
  approvalctl pending

  # Approve a request
  approvalctl approve <approval-id> --reviewer ops@example.com

  # Reject with a comment
  approvalctl reject <approval-id> --reviewer ops@example.com --comments "wrong segment"

  # Inspect dead webhook deliveries
  approvalctl deliveries dead

  # Requeue a dead delivery
  approvalctl deliveries requeue <delivery-id>

  # Generate a signing secret
  approvalctl secret
`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "url", getEnvOrDefault("APPROVALD_URL", "http://localhost:8090"), "approvald API URL")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format (text, json)")

	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(bulkApproveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(deliveriesCmd)
	rootCmd.AddCommand(secretCmd)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
