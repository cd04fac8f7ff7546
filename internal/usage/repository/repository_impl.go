package repository

import (
	"context"

	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	dbpkg "github.com/smallbiznis/creditmeter/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, e *usagedomain.UsageEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_events (
			id, tenant_id, user_id, activity_type, units, credits, list_cost_estimate,
			period_start, request_id, tool_name, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.TenantID,
		e.UserID,
		e.ActivityType,
		e.Units,
		e.Credits,
		e.ListCostEstimate,
		e.PeriodStart,
		e.RequestID,
		e.ToolName,
		e.CreatedAt,
	).Error
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, tenantID, periodStart string, limit int) ([]usagedomain.UsageEvent, error) {
	var items []usagedomain.UsageEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, user_id, activity_type, units, credits, list_cost_estimate,
			period_start, request_id, tool_name, created_at
		 FROM usage_events
		 WHERE tenant_id = ? AND period_start = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		tenantID,
		periodStart,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumEvents(ctx context.Context, db *gorm.DB, filter usagedomain.TotalsFilter) ([]usagedomain.Totals, error) {
	query := `SELECT tenant_id, period_start, activity_type AS event_key,
			COALESCE(SUM(units), 0) AS raw_units,
			COALESCE(SUM(credits), 0) AS credits,
			COALESCE(SUM(list_cost_estimate), 0) AS list_cost_estimate
		 FROM usage_events
		 WHERE period_start = ?`
	args := []any{filter.PeriodStart}
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	query += ` GROUP BY tenant_id, period_start, activity_type
		 ORDER BY tenant_id ASC, activity_type ASC`

	var totals []usagedomain.Totals
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&totals).Error; err != nil {
		return nil, err
	}
	return totals, nil
}

func (r *repo) EnsureRollup(ctx context.Context, db *gorm.DB, rollup *usagedomain.UsageRollupPeriod) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"},
				{Name: "period_start"},
				{Name: "event_key"},
			},
			DoNothing: true,
		}).
		Create(rollup).Error
}

func (r *repo) LockRollup(ctx context.Context, db *gorm.DB, tenantID, periodStart, eventKey string) (*usagedomain.UsageRollupPeriod, error) {
	return findRollup(ctx, db, tenantID, periodStart, eventKey, true)
}

func (r *repo) FindRollup(ctx context.Context, db *gorm.DB, tenantID, periodStart, eventKey string) (*usagedomain.UsageRollupPeriod, error) {
	return findRollup(ctx, db, tenantID, periodStart, eventKey, false)
}

func (r *repo) SaveRollup(ctx context.Context, db *gorm.DB, rollup *usagedomain.UsageRollupPeriod) error {
	return db.WithContext(ctx).Exec(
		`UPDATE usage_rollup_period
		 SET raw_units = ?, credits = ?, list_cost_estimate = ?, updated_at = ?
		 WHERE tenant_id = ? AND period_start = ? AND event_key = ?`,
		rollup.RawUnits,
		rollup.Credits,
		rollup.ListCostEstimate,
		rollup.UpdatedAt,
		rollup.TenantID,
		rollup.PeriodStart,
		rollup.EventKey,
	).Error
}

func (r *repo) ListRollups(ctx context.Context, db *gorm.DB, filter usagedomain.TotalsFilter) ([]usagedomain.UsageRollupPeriod, error) {
	query := `SELECT tenant_id, period_start, event_key, raw_units, credits, list_cost_estimate, updated_at
		 FROM usage_rollup_period
		 WHERE period_start = ?`
	args := []any{filter.PeriodStart}
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	query += ` ORDER BY tenant_id ASC, event_key ASC`

	var items []usagedomain.UsageRollupPeriod
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumRollupCredits(ctx context.Context, db *gorm.DB, tenantID, periodStart string) (float64, error) {
	var total float64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(credits), 0)
		 FROM usage_rollup_period
		 WHERE tenant_id = ? AND period_start = ?`,
		tenantID,
		periodStart,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func rollupQuery(db *gorm.DB, forUpdate bool) string {
	query := `SELECT tenant_id, period_start, event_key, raw_units, credits, list_cost_estimate, updated_at
		 FROM usage_rollup_period
		 WHERE tenant_id = ? AND period_start = ? AND event_key = ?`
	if forUpdate {
		return dbpkg.ForUpdate(db, query)
	}
	return query
}

func findRollup(ctx context.Context, db *gorm.DB, tenantID, periodStart, eventKey string, forUpdate bool) (*usagedomain.UsageRollupPeriod, error) {
	var rollup usagedomain.UsageRollupPeriod
	if err := db.WithContext(ctx).Raw(rollupQuery(db, forUpdate), tenantID, periodStart, eventKey).Scan(&rollup).Error; err != nil {
		return nil, err
	}
	if rollup.TenantID == "" {
		return nil, nil
	}
	return &rollup, nil
}
