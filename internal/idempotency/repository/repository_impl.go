package repository

import (
	"context"

	idempotencydomain "github.com/smallbiznis/creditmeter/internal/idempotency/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() idempotencydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rec *idempotencydomain.IdempotencyRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO idempotency_records (id, tenant_id, endpoint, idempotency_key, request_hash, response_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.TenantID,
		rec.Endpoint,
		rec.IdempotencyKey,
		rec.RequestHash,
		rec.ResponseJSON,
		rec.CreatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, tenantID, endpoint, key string) (*idempotencydomain.IdempotencyRecord, error) {
	var rec idempotencydomain.IdempotencyRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, endpoint, idempotency_key, request_hash, response_json, created_at
		 FROM idempotency_records
		 WHERE tenant_id = ? AND endpoint = ? AND idempotency_key = ?
		 LIMIT 1`,
		tenantID,
		endpoint,
		key,
	).Scan(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}
