package migration

import (
	"context"

	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, clk clock.Clock, cfg config.Config, catalog *config.CatalogHolder, log *zap.Logger) error {
		log = log.Named("migrations")
		if err := Apply(conn); err != nil {
			return err
		}
		if !cfg.SeedOnStart {
			return nil
		}

		res, err := seed.EnsureCatalog(context.Background(), conn, clk, catalog.Get())
		if err != nil {
			return err
		}
		log.Info("catalog seeded", zap.Int("created", res.Total()))

		catalog.OnChange(func(c config.Catalog) {
			res, err := seed.EnsureCatalog(context.Background(), conn, clk, c)
			if err != nil {
				log.Warn("catalog reseed failed", zap.Error(err))
				return
			}
			log.Info("catalog reseeded", zap.Int("created", res.Total()))
		})
		return nil
	}),
)
