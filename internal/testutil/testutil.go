// Package testutil opens throwaway stores for package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/migration"
	"github.com/smallbiznis/creditmeter/internal/seed"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns an in-memory sqlite store private to t with every model
// migrated. A single connection serializes transactions the way row locks
// would on a server database.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// SeedDefaults loads the built-in catalog into db.
func SeedDefaults(t *testing.T, db *gorm.DB) {
	t.Helper()
	SeedCatalog(t, db, config.DefaultCatalog())
}

func SeedCatalog(t *testing.T, db *gorm.DB, catalog config.Catalog) {
	t.Helper()
	if _, err := seed.EnsureCatalog(context.Background(), db, clock.New(), catalog); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
}

func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

// Clock returns a fake clock fixed at the given UTC date and time.
func Clock(year int, month time.Month, day, hour int) *clock.FakeClock {
	return clock.NewFakeClock(time.Date(year, month, day, hour, 0, 0, 0, time.UTC))
}
