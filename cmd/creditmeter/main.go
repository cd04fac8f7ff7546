package main

import (
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/observability"
	"github.com/smallbiznis/creditmeter/internal/ratecard"
	"github.com/smallbiznis/creditmeter/internal/usage"
	"github.com/smallbiznis/creditmeter/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "creditmeter",
		Short:        "Credit metering and entitlement enforcement",
		Long:         `creditmeter meters tenant activity in credits, enforces plan entitlements and quotas, and reconciles usage rollups against the ledger.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newSeedCommand(),
		newReconcileCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// core is shared by every subcommand: config, logging, tracing and the store.
func core() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
	)
}

// metering is the minimum needed to read and write usage.
func metering() fx.Option {
	return fx.Options(
		ratecard.Module,
		usage.Module,
	)
}

func newSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
