package db

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// WithTx binds tx to ctx so nested calls join the same transaction.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) (*gorm.DB, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// Conn returns the transaction bound to ctx, or base when there is none.
func Conn(ctx context.Context, base *gorm.DB) *gorm.DB {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return base.WithContext(ctx)
}

// RunInTx executes fn inside a transaction. When ctx already carries one,
// fn joins it and commit/rollback is left to the outer owner.
func RunInTx(ctx context.Context, base *gorm.DB, fn func(ctx context.Context, tx *gorm.DB) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	err := base.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(WithTx(ctx, tx), tx)
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return Retryable(err)
}
