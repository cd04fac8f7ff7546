package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrRetryable marks store failures the caller may retry with a fresh transaction.
var ErrRetryable = errors.New("store_retryable")

const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	// GORM wraps error di dalam gorm.Err* → unwrap dulu
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if hasPGCode(err, "23505") {
		return true
	}
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsRetryable reports lock-wait timeouts, deadlocks and serialization failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetryable) {
		return true
	}
	if hasPGCode(err, pgLockNotAvailable) || hasPGCode(err, pgDeadlockDetected) || hasPGCode(err, pgSerializationFailure) {
		return true
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "Error 1205"), strings.Contains(msg, "Error 1213"):
		return true
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return true
	}
	return false
}

// Retryable wraps err with ErrRetryable when it is a lock or serialization failure.
func Retryable(err error) error {
	if err == nil || errors.Is(err, ErrRetryable) {
		return err
	}
	if IsRetryable(err) {
		return fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	return err
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
