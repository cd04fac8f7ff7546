package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, et *MeteredEventType) error
	Update(ctx context.Context, db *gorm.DB, et *MeteredEventType) error
	FindByKey(ctx context.Context, db *gorm.DB, eventKey string) (*MeteredEventType, error)
	FindByKeys(ctx context.Context, db *gorm.DB, eventKeys []string) ([]MeteredEventType, error)
	List(ctx context.Context, db *gorm.DB) ([]MeteredEventType, error)
}
