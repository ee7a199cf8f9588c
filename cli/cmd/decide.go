/*-------------------------------------------------------------------------
 *
 * decide.go
 *    Reviewer decision commands for approvalctl
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/cli/cmd/decide.go
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
	approveCmd = &cobra.Command{
		Use:   "approve [approval-id]",
		Short: "Approve a pending request",
		Args:  cobra.ExactArgs(1),
		RunE:  approveRequest,
	}

	rejectCmd = &cobra.Command{
		Use:   "reject [approval-id]",
		Short: "Reject a pending request",
		Args:  cobra.ExactArgs(1),
		RunE:  rejectRequest,
	}

	bulkApproveCmd = &cobra.Command{
		Use:   "bulk-approve [approval-id...]",
		Short: "Approve a batch of pending requests",
		Args:  cobra.MinimumNArgs(1),
		RunE:  bulkApproveRequests,
	}

	decisionReviewer string
	decisionComments string
)

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd, bulkApproveCmd} {
		c.Flags().StringVarP(&decisionReviewer, "reviewer", "r", "", "Reviewer email (required)")
		c.Flags().StringVarP(&decisionComments, "comments", "m", "", "Decision comments")
		c.MarkFlagRequired("reviewer")
	}
}

func approveRequest(cmd *cobra.Command, args []string) error {
	return submitDecision(args[0], true)
}

func rejectRequest(cmd *cobra.Command, args []string) error {
	return submitDecision(args[0], false)
}

func submitDecision(id string, approved bool) error {
	apiClient := client.NewClient(apiURL)

	approval, err := apiClient.SubmitDecision(id, approved, decisionReviewer, decisionComments)
	if err != nil {
		return fmt.Errorf("failed to submit decision: %w", err)
	}

	if outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(approval)
	}

	fmt.Printf("Approval %s is now %s (reviewer: %s)\n", approval.ID, approval.Status, decisionReviewer)
	return nil
}

func bulkApproveRequests(cmd *cobra.Command, args []string) error {
	apiClient := client.NewClient(apiURL)

	result, err := apiClient.BulkApprove(args, decisionReviewer, decisionComments)
	if err != nil {
		return fmt.Errorf("failed to bulk-approve: %w", err)
	}

	if outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	fmt.Printf("Approved %d of %d requests\n", len(result.Resolved), len(args))
	for id, reason := range result.Failed {
		fmt.Printf("  failed %s: %s\n", id, reason)
	}
	return nil
}
