// Package domain holds per-tenant daily limits and the day counters they are
// checked against.
package domain

import "time"

// TenantDailyLimit overrides the catalog's default daily limit of one event
// for one tenant.
type TenantDailyLimit struct {
	TenantID   string    `json:"tenant_id" gorm:"column:tenant_id;primaryKey;type:varchar(36)"`
	EventKey   string    `json:"event_key" gorm:"column:event_key;primaryKey;type:varchar(100)"`
	DailyLimit float64   `json:"daily_limit" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"not null"`
}

func (TenantDailyLimit) TableName() string { return "tenant_daily_limits" }

// UsageRollupDaily counts the raw units a tenant was admitted for on one UTC
// day. RollupDate is YYYY-MM-DD.
type UsageRollupDaily struct {
	TenantID   string    `json:"tenant_id" gorm:"column:tenant_id;primaryKey;type:varchar(36)"`
	RollupDate string    `json:"rollup_date" gorm:"column:rollup_date;primaryKey;type:varchar(10)"`
	EventKey   string    `json:"event_key" gorm:"column:event_key;primaryKey;type:varchar(100)"`
	RawUnits   float64   `json:"raw_units" gorm:"not null"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"not null"`
}

func (UsageRollupDaily) TableName() string { return "usage_rollup_daily" }
