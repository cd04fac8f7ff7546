package migration

import (
	"io/fs"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	idempotencydomain "github.com/smallbiznis/creditmeter/internal/idempotency/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func TestIdempotencyResponseIsStoredAsText(t *testing.T) {
	up, err := fs.ReadFile(embeddedMigrations, "migrations/000001_init_schema.up.sql")
	require.NoError(t, err)

	var column string
	for _, line := range strings.Split(string(up), "\n") {
		if strings.Contains(line, "response_json") {
			column = line
			break
		}
	}
	require.NotEmpty(t, column)
	assert.Contains(t, column, "TEXT")
	assert.NotContains(t, column, "JSONB")

	s, err := schema.Parse(&idempotencydomain.IdempotencyRecord{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	field := s.LookUpField("ResponseJSON")
	require.NotNil(t, field)
	assert.Equal(t, schema.DataType("text"), field.DataType)
}

func TestEveryUpMigrationHasADown(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	var ups int
	for name := range names {
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		ups++
		assert.True(t, names[strings.TrimSuffix(name, ".up.sql")+".down.sql"], name)
	}
	assert.GreaterOrEqual(t, ups, 2)
}

func TestAutoMigrateCreatesEveryTable(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:automigrate?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Apply(db))
	for _, table := range []string{
		"metered_event_types",
		"tenant_subscriptions",
		"usage_rollup_period",
		"idempotency_records",
		"tenant_daily_limits",
		"usage_rollup_daily",
	} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestApplyRequiresHandle(t *testing.T) {
	assert.Error(t, Apply(nil))
	assert.Error(t, RunMigrations(nil))
}
