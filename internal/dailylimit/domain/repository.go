package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	ListLimits(ctx context.Context, db *gorm.DB, tenantID string) ([]TenantDailyLimit, error)
	FindLimit(ctx context.Context, db *gorm.DB, tenantID, eventKey string) (*TenantDailyLimit, error)
	UpsertLimit(ctx context.Context, db *gorm.DB, limit *TenantDailyLimit) error

	// EnsureRollup creates a zeroed day counter when none exists.
	EnsureRollup(ctx context.Context, db *gorm.DB, rollup *UsageRollupDaily) error
	LockRollup(ctx context.Context, db *gorm.DB, tenantID, day, eventKey string) (*UsageRollupDaily, error)
	FindRollup(ctx context.Context, db *gorm.DB, tenantID, day, eventKey string) (*UsageRollupDaily, error)
	SaveRollup(ctx context.Context, db *gorm.DB, rollup *UsageRollupDaily) error
	ListRollups(ctx context.Context, db *gorm.DB, tenantID, day string) ([]UsageRollupDaily, error)
}
