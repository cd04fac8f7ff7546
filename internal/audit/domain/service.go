package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
}

type Service interface {
	// Record joins the transaction bound to ctx so the entry commits or rolls
	// back with the action it describes.
	Record(ctx context.Context, entry Entry) (*AuditLog, error)
	List(ctx context.Context, req ListRequest) ([]AuditLog, error)
}

type Entry struct {
	TenantID  string
	UserID    string
	Action    string
	ToolName  string
	RequestID string
	Metadata  map[string]any
}

type ListRequest struct {
	TenantID string `json:"tenant_id"`
	Action   string `json:"action"`
	Limit    int    `json:"limit"`
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidAction = errors.New("invalid_action")
)
