package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/period"
	"github.com/smallbiznis/creditmeter/internal/reconcile"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newReconcileCommand() *cobra.Command {
	var (
		periodStart string
		repair      bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare usage rollups with the ledger for one period",
		Long:  `Compare every usage rollup of a period with the ledger sums. With --repair, drifted rollups are rewritten from the ledger.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				rec *reconcile.Reconciler
				clk clock.Clock
			)
			app := fx.New(
				core(),
				fx.NopLogger,
				metering(),
				reconcile.Module,
				fx.Populate(&rec, &clk),
			)
			return runOnce(cmd.Context(), app, func(ctx context.Context) error {
				target := strings.TrimSpace(periodStart)
				if target == "" {
					target = period.Current(clk).Start
				}
				report, err := rec.Run(ctx, target, repair)
				if report != nil {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if encErr := enc.Encode(report); encErr != nil {
						return encErr
					}
				}
				if err != nil {
					return err
				}
				if report.Status == reconcile.StatusDrifted {
					return errors.New("rollup drift detected")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&periodStart, "period", "", "Period start (YYYY-MM-01); defaults to the current period")
	cmd.Flags().BoolVar(&repair, "repair", false, "Rewrite drifted rollups from the ledger")
	return cmd
}
