package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/creditmeter/internal/audit/domain"
	dailylimitdomain "github.com/smallbiznis/creditmeter/internal/dailylimit/domain"
	idempotencydomain "github.com/smallbiznis/creditmeter/internal/idempotency/domain"
	plandomain "github.com/smallbiznis/creditmeter/internal/plan/domain"
	ratecarddomain "github.com/smallbiznis/creditmeter/internal/ratecard/domain"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the engine owns, parents before children.
func Models() []any {
	return []any{
		&ratecarddomain.MeteredEventType{},
		&plandomain.Plan{},
		&plandomain.Capability{},
		&plandomain.PlanCapability{},
		&plandomain.PlanEventCap{},
		&subscriptiondomain.TenantSubscription{},
		&usagedomain.UsageEvent{},
		&usagedomain.UsageRollupPeriod{},
		&dailylimitdomain.TenantDailyLimit{},
		&dailylimitdomain.UsageRollupDaily{},
		&idempotencydomain.IdempotencyRecord{},
		&auditdomain.AuditLog{},
	}
}

// Apply brings the schema up to date. Postgres runs the versioned SQL
// migrations; other dialects are migrated from the models.
func Apply(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB

	return nil
}
