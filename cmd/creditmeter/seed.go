package main

import (
	"context"
	"time"

	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/migration"
	"github.com/smallbiznis/creditmeter/internal/seed"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Apply migrations and insert the missing parts of the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn    *gorm.DB
				catalog *config.CatalogHolder
				log     *zap.Logger
				clk     clock.Clock
			)
			app := fx.New(
				core(),
				fx.NopLogger,
				fx.Populate(&conn, &catalog, &log, &clk),
			)
			return runOnce(cmd.Context(), app, func(ctx context.Context) error {
				if err := migration.Apply(conn); err != nil {
					return err
				}
				res, err := seed.EnsureCatalog(ctx, conn, clk, catalog.Get())
				if err != nil {
					return err
				}
				log.Info("catalog seeded",
					zap.Int("events", res.Events),
					zap.Int("capabilities", res.Capabilities),
					zap.Int("plans", res.Plans),
					zap.Int("plan_capabilities", res.PlanCapabilities),
					zap.Int("event_caps", res.EventCaps),
				)
				return nil
			})
		},
	}
}

// runOnce starts app, runs fn and stops app whatever fn returned.
func runOnce(ctx context.Context, app *fx.App, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
