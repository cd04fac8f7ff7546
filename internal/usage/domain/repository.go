package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *UsageEvent) error
	ListEvents(ctx context.Context, db *gorm.DB, tenantID, periodStart string, limit int) ([]UsageEvent, error)
	SumEvents(ctx context.Context, db *gorm.DB, filter TotalsFilter) ([]Totals, error)

	// EnsureRollup creates a zeroed rollup row when none exists.
	EnsureRollup(ctx context.Context, db *gorm.DB, rollup *UsageRollupPeriod) error
	LockRollup(ctx context.Context, db *gorm.DB, tenantID, periodStart, eventKey string) (*UsageRollupPeriod, error)
	SaveRollup(ctx context.Context, db *gorm.DB, rollup *UsageRollupPeriod) error
	FindRollup(ctx context.Context, db *gorm.DB, tenantID, periodStart, eventKey string) (*UsageRollupPeriod, error)
	ListRollups(ctx context.Context, db *gorm.DB, filter TotalsFilter) ([]UsageRollupPeriod, error)
	SumRollupCredits(ctx context.Context, db *gorm.DB, tenantID, periodStart string) (float64, error)
}
