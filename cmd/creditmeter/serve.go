package main

import (
	"github.com/smallbiznis/creditmeter/internal/audit"
	"github.com/smallbiznis/creditmeter/internal/authorization"
	"github.com/smallbiznis/creditmeter/internal/billing"
	"github.com/smallbiznis/creditmeter/internal/dailylimit"
	billingdomain "github.com/smallbiznis/creditmeter/internal/billing/domain"
	"github.com/smallbiznis/creditmeter/internal/entitlement"
	"github.com/smallbiznis/creditmeter/internal/gateway"
	gatewaydomain "github.com/smallbiznis/creditmeter/internal/gateway/domain"
	"github.com/smallbiznis/creditmeter/internal/idempotency"
	"github.com/smallbiznis/creditmeter/internal/migration"
	"github.com/smallbiznis/creditmeter/internal/plan"
	"github.com/smallbiznis/creditmeter/internal/reconcile"
	"github.com/smallbiznis/creditmeter/internal/server"
	"github.com/smallbiznis/creditmeter/internal/subscription"
	"github.com/smallbiznis/creditmeter/internal/tools"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations, seed the catalog and start the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				core(),
				migration.Module,
				metering(),
				plan.Module,
				subscription.Module,
				idempotency.Module,
				audit.Module,
				entitlement.Module,
				dailylimit.Module,
				billing.Module,
				authorization.Module,
				tools.Module,
				gateway.Module,
				reconcile.Module,
				server.Module,
				fx.Invoke(reconcile.StartSchedule),
				fx.Invoke(func(_ gatewaydomain.Service, _ billingdomain.Service, _ *reconcile.Reconciler, log *zap.Logger) {
					log.Info("creditmeter ready")
				}),
			)
			app.Run()
			return app.Err()
		},
	}
}
