package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// IdempotencyRecord is written once per (tenant, endpoint, key) together with
// the side effect it guards. ResponseJSON is stored as text so a replay
// returns the exact bytes that were stored.
type IdempotencyRecord struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID       string         `json:"tenant_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_idempotency_scope,priority:1"`
	Endpoint       string         `json:"endpoint" gorm:"type:varchar(255);not null;uniqueIndex:ux_idempotency_scope,priority:2"`
	IdempotencyKey string         `json:"idempotency_key" gorm:"type:varchar(255);not null;uniqueIndex:ux_idempotency_scope,priority:3"`
	RequestHash    string         `json:"request_hash" gorm:"type:varchar(64);not null"`
	ResponseJSON   datatypes.JSON `json:"response_json" gorm:"type:text;not null"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_records" }
