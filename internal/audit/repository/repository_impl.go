package repository

import (
	"context"

	"github.com/smallbiznis/creditmeter/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, tenant_id, user_id, action, tool_name, request_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.TenantID,
		entry.UserID,
		entry.Action,
		entry.ToolName,
		entry.RequestID,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}
