package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *TenantSubscription) error
	Update(ctx context.Context, db *gorm.DB, sub *TenantSubscription) error
	FindByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*TenantSubscription, error)
	FindByTenantForUpdate(ctx context.Context, db *gorm.DB, tenantID string) (*TenantSubscription, error)
	List(ctx context.Context, db *gorm.DB, planID string) ([]TenantSubscription, error)
}
