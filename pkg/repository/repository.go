package repository

import (
	"context"
)

// Repository is a thin generic store over one gorm model. Calls join the
// transaction bound to ctx when there is one.
type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	BatchCreate(ctx context.Context, resources []*T) error
	Count(ctx context.Context, query *T) (int64, error)
}
