// Package domain contains the usage ledger and its per-period rollups.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageEvent is one immutable ledger entry. Credits and cost are computed at
// record time and never recomputed when the rate card changes.
type UsageEvent struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID         string       `json:"tenant_id" gorm:"type:varchar(36);not null;index:idx_usage_events_tenant_period,priority:1;index:idx_usage_events_tenant_created,priority:1"`
	UserID           string       `json:"user_id" gorm:"type:varchar(36);not null"`
	ActivityType     string       `json:"activity_type" gorm:"type:varchar(100);not null"`
	Units            float64      `json:"units" gorm:"not null"`
	Credits          float64      `json:"credits" gorm:"not null;default:0"`
	ListCostEstimate float64      `json:"list_cost_estimate" gorm:"not null;default:0"`
	PeriodStart      string       `json:"period_start" gorm:"type:varchar(10);not null;index:idx_usage_events_tenant_period,priority:2"`
	RequestID        string       `json:"request_id" gorm:"type:varchar(64);not null;index"`
	ToolName         string       `json:"tool_name,omitempty" gorm:"type:varchar(100)"`
	CreatedAt        time.Time    `json:"created_at" gorm:"not null;index:idx_usage_events_tenant_created,priority:2"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

// UsageRollupPeriod is the running sum of the ledger for one tenant, period
// and event key.
type UsageRollupPeriod struct {
	TenantID         string    `json:"tenant_id" gorm:"column:tenant_id;primaryKey;type:varchar(36)"`
	PeriodStart      string    `json:"period_start" gorm:"column:period_start;primaryKey;type:varchar(10)"`
	EventKey         string    `json:"event_key" gorm:"column:event_key;primaryKey;type:varchar(100)"`
	RawUnits         float64   `json:"raw_units" gorm:"not null"`
	Credits          float64   `json:"credits" gorm:"not null"`
	ListCostEstimate float64   `json:"list_cost_estimate" gorm:"not null"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (UsageRollupPeriod) TableName() string { return "usage_rollup_period" }

// Totals is an aggregate over one (tenant, period, event key), either read
// from the rollup or summed from the ledger.
type Totals struct {
	TenantID         string  `json:"tenant_id"`
	PeriodStart      string  `json:"period_start"`
	EventKey         string  `json:"event_key"`
	RawUnits         float64 `json:"raw_units"`
	Credits          float64 `json:"credits"`
	ListCostEstimate float64 `json:"list_cost_estimate"`
}
