/*-------------------------------------------------------------------------
 *
 * deliveries.go
 *    Webhook delivery management commands for approvalctl
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/cli/cmd/deliveries.go
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
	deliveriesCmd = &cobra.Command{
		Use:   "deliveries",
		Short: "Inspect and manage webhook deliveries",
	}

	deadDeliveriesCmd = &cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered webhook deliveries",
		RunE:  listDeadDeliveries,
	}

	requeueDeliveryCmd = &cobra.Command{
		Use:   "requeue [delivery-id]",
		Short: "Requeue a dead or failed delivery with a fresh signature",
		Args:  cobra.ExactArgs(1),
		RunE:  requeueDelivery,
	}

	deadLimit int
)

func init() {
	deadDeliveriesCmd.Flags().IntVarP(&deadLimit, "limit", "l", 50, "Maximum number of results")
	deliveriesCmd.AddCommand(deadDeliveriesCmd)
	deliveriesCmd.AddCommand(requeueDeliveryCmd)
}

func listDeadDeliveries(cmd *cobra.Command, args []string) error {
	apiClient := client.NewClient(apiURL)

	list, err := apiClient.ListDeadDeliveries(deadLimit)
	if err != nil {
		return fmt.Errorf("failed to list dead deliveries: %w", err)
	}

	if outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(list)
	}

	if list.Count == 0 {
		fmt.Println("No dead deliveries")
		return nil
	}

	fmt.Printf("\nDead deliveries (%d):\n", list.Count)
	fmt.Println("─────────────────────────────────────────────────────────")
	for _, d := range list.Deliveries {
		fmt.Printf("  %-36s %-24s attempts %d/%d\n", d.ID, d.EventType, d.AttemptCount, d.MaxAttempts)
		fmt.Printf("    Approval: %s, Target: %s\n", d.ApprovalID, d.TargetURL)
		if d.LastError != "" {
			fmt.Printf("    Last error: %s\n", d.LastError)
		}
	}
	return nil
}

func requeueDelivery(cmd *cobra.Command, args []string) error {
	apiClient := client.NewClient(apiURL)

	delivery, err := apiClient.RequeueDelivery(args[0])
	if err != nil {
		return fmt.Errorf("failed to requeue delivery: %w", err)
	}

	if outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(delivery)
	}

	fmt.Printf("Delivery %s requeued (next attempt: %s)\n", delivery.ID, delivery.NextAttemptAt)
	return nil
}
