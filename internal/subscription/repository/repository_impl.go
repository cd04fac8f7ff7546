package repository

import (
	"context"

	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	dbpkg "github.com/smallbiznis/creditmeter/pkg/db"
	"gorm.io/gorm"
)

const selectColumns = `SELECT tenant_id, plan_id, status, period_start, period_end, created_at, updated_at
	 FROM tenant_subscriptions`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.TenantSubscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO tenant_subscriptions (tenant_id, plan_id, status, period_start, period_end, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.TenantID,
		sub.PlanID,
		sub.Status,
		sub.PeriodStart,
		sub.PeriodEnd,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.TenantSubscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenant_subscriptions
		 SET plan_id = ?, status = ?, period_start = ?, period_end = ?, updated_at = ?
		 WHERE tenant_id = ?`,
		sub.PlanID,
		sub.Status,
		sub.PeriodStart,
		sub.PeriodEnd,
		sub.UpdatedAt,
		sub.TenantID,
	).Error
}

func (r *repo) FindByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*subscriptiondomain.TenantSubscription, error) {
	return findByTenant(ctx, db, tenantID, false)
}

func (r *repo) FindByTenantForUpdate(ctx context.Context, db *gorm.DB, tenantID string) (*subscriptiondomain.TenantSubscription, error) {
	return findByTenant(ctx, db, tenantID, true)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, planID string) ([]subscriptiondomain.TenantSubscription, error) {
	query := selectColumns
	args := []any{}
	if planID != "" {
		query += ` WHERE plan_id = ?`
		args = append(args, planID)
	}
	query += ` ORDER BY tenant_id ASC`

	var items []subscriptiondomain.TenantSubscription
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func tenantQuery(db *gorm.DB, forUpdate bool) string {
	query := selectColumns + ` WHERE tenant_id = ? LIMIT 1`
	if forUpdate {
		return dbpkg.ForUpdate(db, query)
	}
	return query
}

func findByTenant(ctx context.Context, db *gorm.DB, tenantID string, forUpdate bool) (*subscriptiondomain.TenantSubscription, error) {
	var sub subscriptiondomain.TenantSubscription
	if err := db.WithContext(ctx).Raw(tenantQuery(db, forUpdate), tenantID).Scan(&sub).Error; err != nil {
		return nil, err
	}
	if sub.TenantID == "" {
		return nil, nil
	}
	return &sub, nil
}
