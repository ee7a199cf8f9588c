/*-------------------------------------------------------------------------
 *
 * secret.go
 *    Webhook signing secret generation for approvalctl
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/cli/cmd/secret.go
 *
 *-------------------------------------------------------------------------
 */

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outreachforge/approvald/internal/security"
)

var (
	secretCmd = &cobra.Command{
		Use:   "secret",
		Short: "Generate a webhook signing secret",
		RunE:  generateSecret,
	}

	secretBytes int
)

func init() {
	secretCmd.Flags().IntVarP(&secretBytes, "bytes", "b", 32, "Secret length in bytes before hex encoding")
}

func generateSecret(cmd *cobra.Command, args []string) error {
	secret, err := security.GenerateSecret(secretBytes)
	if err != nil {
		return fmt.Errorf("failed to generate secret: %w", err)
	}
	fmt.Println(secret)
	return nil
}
