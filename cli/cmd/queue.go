/*-------------------------------------------------------------------------
 *
 * queue.go
 *    Review queue inspection commands for approvalctl
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/cli/cmd/queue.go
 *
 *-------------------------------------------------------------------------
 */

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/outreachforge/approvald/cli/pkg/client"
)

var (
	pendingCmd = &cobra.Command{
		Use:   "pending",
		Short: "List pending approval requests",
		RunE:  listPending,
	}

	showCmd = &cobra.Command{
		Use:   "show [approval-id]",
		Short: "Show approval request details",
		Args:  cobra.ExactArgs(1),
		RunE:  showApproval,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show approval statistics",
		RunE:  showStats,
	}

	pendingType  string
	pendingLimit int
)

func init() {
	pendingCmd.Flags().StringVarP(&pendingType, "type", "t", "", "Filter by approval type")
	pendingCmd.Flags().IntVarP(&pendingLimit, "limit", "l", 50, "Maximum number of results")
}

func listPending(cmd *cobra.Command, args []string) error {
	apiClient := client.NewClient(apiURL)

	list, err := apiClient.ListPending(pendingType, pendingLimit)
	if err != nil {
		return fmt.Errorf("failed to list pending approvals: %w", err)
	}

	if outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(list)
	}

	if list.Count == 0 {
		fmt.Println("No pending approvals")
		return nil
	}

	fmt.Printf("\nPending approvals (%d):\n", list.Count)
	fmt.Println("─────────────────────────────────────────────────────────")
	for _, a := range list.Approvals {
		fmt.Printf("  %-36s %-20s %s\n", a.ID, a.ApprovalType, a.Status)
		fmt.Printf("    Resource: %s, Deadline: %s\n", a.ResourceID, a.TimeoutAt)
		if a.EscalationLevel > 0 {
			fmt.Printf("    Escalated to: %s (level %d)\n", a.EscalatedTo, a.EscalationLevel)
		}
	}
	return nil
}

func showApproval(cmd *cobra.Command, args []string) error {
	apiClient := client.NewClient(apiURL)

	approval, err := apiClient.GetApproval(args[0])
	if err != nil {
		return fmt.Errorf("failed to get approval: %w", err)
	}

	if outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(approval)
	}

	fmt.Printf("\nApproval %s\n", approval.ID)
	fmt.Println("─────────────────────────────────────────────────────────")
	fmt.Printf("  Type:     %s\n", approval.ApprovalType)
	fmt.Printf("  Resource: %s\n", approval.ResourceID)
	fmt.Printf("  Status:   %s\n", approval.Status)
	if approval.ResolutionMethod != "" {
		fmt.Printf("  Resolved: %s (%s)\n", approval.ResolvedAt, approval.ResolutionMethod)
	}
	if approval.Score != nil {
		fmt.Printf("  Score:    %.3f\n", *approval.Score)
	}
	if approval.Reviewer != "" {
		fmt.Printf("  Reviewer: %s\n", approval.Reviewer)
	}
	if approval.Comments != "" {
		fmt.Printf("  Comments: %s\n", approval.Comments)
	}
	fmt.Printf("  Deadline: %s\n", approval.TimeoutAt)
	return nil
}

func showStats(cmd *cobra.Command, args []string) error {
	apiClient := client.NewClient(apiURL)

	stats, err := apiClient.GetStatistics()
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	if outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}

	fmt.Println("\nApproval statistics:")
	fmt.Println("─────────────────────────────────────────────────────────")
	fmt.Printf("  Total:           %d\n", stats.Total)
	fmt.Printf("  Pending:         %d (escalated: %d)\n", stats.Pending, stats.Escalated)
	fmt.Printf("  Approved:        %d\n", stats.Approved)
	fmt.Printf("  Rejected:        %d\n", stats.Rejected)
	fmt.Printf("  Timed out:       %d\n", stats.TimedOut)
	fmt.Printf("  Auto-resolved:   %d (%.1f%%)\n", stats.AutoResolved, stats.AutoResolutionRate*100)
	fmt.Printf("  Manual-resolved: %d\n", stats.ManualResolved)
	return nil
}
