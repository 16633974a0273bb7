package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/d4l-network/d4l-gateway/internal/config"
	"github.com/d4l-network/d4l-gateway/internal/di"
	"github.com/d4l-network/d4l-gateway/internal/tools/common"
	"github.com/d4l-network/d4l-gateway/internal/tools/ui"
)

func newReconcileCommand() *cobra.Command {
	var ci bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass over pending claim requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pass := func(ctx context.Context) ([]string, error) {
				m, cleanup, err := di.InitializeMaintenance(ctx, cfg)
				if err != nil {
					return nil, err
				}
				defer cleanup()
				report, err := m.Reconciler.RunOnce(ctx)
				details := []string{
					fmt.Sprintf("scanned=%d confirmed=%d failed=%d retried=%d", report.Scanned, report.Confirmed, report.Failed, report.Retried),
					fmt.Sprintf("skipped=%d errors=%d", report.Skipped, report.Errors),
				}
				return details, err
			}

			var (
				details []string
				runErr  error
			)
			if ci {
				ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Minute)
				defer cancel()
				details, runErr = pass(ctx)
				common.PrintCIResult(runErr == nil, "reconcile", details, runErr)
				if runErr != nil {
					os.Exit(4)
				}
				return nil
			}
			_, runErr = ui.Run("reconcile", pass)
			return runErr
		},
	}
	cmd.Flags().BoolVar(&ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}
