package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Dialect(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Name,
		)), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.Name,
			cfg.Port,
			cfg.SSLMode,
		)
		if cfg.LockTimeoutMS > 0 {
			// applied per session so a blocked rollup lock fails instead of hanging
			dsn += fmt.Sprintf(" lock_timeout=%d", cfg.LockTimeoutMS)
		}
		return postgres.Open(dsn), nil
	case "sqlite":
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			path = "creditmeter.db"
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.Type)
	}
}

// SupportsRowLocks reports whether the dialect understands SELECT ... FOR UPDATE.
func SupportsRowLocks(conn *gorm.DB) bool {
	if conn == nil || conn.Config == nil || conn.Dialector == nil {
		return false
	}
	return conn.Dialector.Name() != "sqlite"
}

// ForUpdate appends a row lock to a single-table SELECT on dialects that
// support one. sqlite locks the whole database for a write transaction
// instead.
func ForUpdate(conn *gorm.DB, query string) string {
	if !SupportsRowLocks(conn) {
		return query
	}
	return strings.TrimRight(query, " \n\t") + " FOR UPDATE"
}
