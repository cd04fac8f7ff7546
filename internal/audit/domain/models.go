package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const ActionToolInvoke = "tools.invoke"

// AuditLog is an append-only record of a privileged action taken by a tenant user.
type AuditLog struct {
	ID        snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID  string            `json:"tenant_id" gorm:"type:varchar(36);not null;index:idx_audit_logs_tenant_created,priority:1"`
	UserID    string            `json:"user_id" gorm:"type:varchar(36);not null"`
	Action    string            `json:"action" gorm:"type:varchar(100);not null"`
	ToolName  string            `json:"tool_name,omitempty" gorm:"type:varchar(100)"`
	RequestID string            `json:"request_id" gorm:"type:varchar(64);not null;index"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;index:idx_audit_logs_tenant_created,priority:2"`
}

func (AuditLog) TableName() string { return "audit_logs" }
