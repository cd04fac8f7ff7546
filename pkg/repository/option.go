package repository

import (
	"strings"

	"gorm.io/gorm"
)

// QueryOption mutates a query before it is executed.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// WithOrder sorts by a trusted column expression such as "created_at desc".
func WithOrder(expr string) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			return db
		}
		return db.Order(expr)
	})
}

func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

// WithWhere adds a raw condition, for ranges the struct filter cannot express.
func WithWhere(query string, args ...any) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}
