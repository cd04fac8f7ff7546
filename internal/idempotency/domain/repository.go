package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *IdempotencyRecord) error
	Find(ctx context.Context, db *gorm.DB, tenantID, endpoint, key string) (*IdempotencyRecord, error)
}
