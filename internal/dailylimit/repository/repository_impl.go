package repository

import (
	"context"

	dailylimitdomain "github.com/smallbiznis/creditmeter/internal/dailylimit/domain"
	dbpkg "github.com/smallbiznis/creditmeter/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() dailylimitdomain.Repository {
	return &repo{}
}

func (r *repo) ListLimits(ctx context.Context, db *gorm.DB, tenantID string) ([]dailylimitdomain.TenantDailyLimit, error) {
	var items []dailylimitdomain.TenantDailyLimit
	err := db.WithContext(ctx).Raw(
		`SELECT tenant_id, event_key, daily_limit, created_at, updated_at
		 FROM tenant_daily_limits
		 WHERE tenant_id = ?
		 ORDER BY event_key ASC`,
		tenantID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindLimit(ctx context.Context, db *gorm.DB, tenantID, eventKey string) (*dailylimitdomain.TenantDailyLimit, error) {
	var item dailylimitdomain.TenantDailyLimit
	err := db.WithContext(ctx).Raw(
		`SELECT tenant_id, event_key, daily_limit, created_at, updated_at
		 FROM tenant_daily_limits
		 WHERE tenant_id = ? AND event_key = ?`,
		tenantID,
		eventKey,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.TenantID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpsertLimit(ctx context.Context, db *gorm.DB, limit *dailylimitdomain.TenantDailyLimit) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "event_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"daily_limit", "updated_at"}),
		}).
		Create(limit).Error
}

func (r *repo) EnsureRollup(ctx context.Context, db *gorm.DB, rollup *dailylimitdomain.UsageRollupDaily) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"},
				{Name: "rollup_date"},
				{Name: "event_key"},
			},
			DoNothing: true,
		}).
		Create(rollup).Error
}

func (r *repo) LockRollup(ctx context.Context, db *gorm.DB, tenantID, day, eventKey string) (*dailylimitdomain.UsageRollupDaily, error) {
	return findRollup(ctx, db, tenantID, day, eventKey, true)
}

func (r *repo) FindRollup(ctx context.Context, db *gorm.DB, tenantID, day, eventKey string) (*dailylimitdomain.UsageRollupDaily, error) {
	return findRollup(ctx, db, tenantID, day, eventKey, false)
}

func (r *repo) SaveRollup(ctx context.Context, db *gorm.DB, rollup *dailylimitdomain.UsageRollupDaily) error {
	return db.WithContext(ctx).Exec(
		`UPDATE usage_rollup_daily
		 SET raw_units = ?, updated_at = ?
		 WHERE tenant_id = ? AND rollup_date = ? AND event_key = ?`,
		rollup.RawUnits,
		rollup.UpdatedAt,
		rollup.TenantID,
		rollup.RollupDate,
		rollup.EventKey,
	).Error
}

func (r *repo) ListRollups(ctx context.Context, db *gorm.DB, tenantID, day string) ([]dailylimitdomain.UsageRollupDaily, error) {
	var items []dailylimitdomain.UsageRollupDaily
	err := db.WithContext(ctx).Raw(
		`SELECT tenant_id, rollup_date, event_key, raw_units, updated_at
		 FROM usage_rollup_daily
		 WHERE tenant_id = ? AND rollup_date = ?
		 ORDER BY event_key ASC`,
		tenantID,
		day,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func dailyRollupQuery(db *gorm.DB, forUpdate bool) string {
	query := `SELECT tenant_id, rollup_date, event_key, raw_units, updated_at
		 FROM usage_rollup_daily
		 WHERE tenant_id = ? AND rollup_date = ? AND event_key = ?`
	if forUpdate {
		return dbpkg.ForUpdate(db, query)
	}
	return query
}

func findRollup(ctx context.Context, db *gorm.DB, tenantID, day, eventKey string, forUpdate bool) (*dailylimitdomain.UsageRollupDaily, error) {
	var rollup dailylimitdomain.UsageRollupDaily
	if err := db.WithContext(ctx).Raw(dailyRollupQuery(db, forUpdate), tenantID, day, eventKey).Scan(&rollup).Error; err != nil {
		return nil, err
	}
	if rollup.TenantID == "" {
		return nil, nil
	}
	return &rollup, nil
}
