package domain

import "time"

// Plan is a billing tier: a monthly credit allowance and an overage price.
type Plan struct {
	PlanID                string    `json:"plan_id" gorm:"column:plan_id;primaryKey;type:varchar(50)"`
	Name                  string    `json:"name" gorm:"type:varchar(255);not null"`
	IncludedCredits       float64   `json:"included_credits" gorm:"not null;default:0"`
	OveragePricePerCredit float64   `json:"overage_price_per_credit" gorm:"not null;default:0"`
	CreatedAt             time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time `json:"updated_at" gorm:"not null"`
}

func (Plan) TableName() string { return "plans" }

// Capability is a named feature a plan can grant.
type Capability struct {
	CapabilityKey string `json:"capability_key" gorm:"column:capability_key;primaryKey;type:varchar(100)"`
	Description   string `json:"description" gorm:"type:text"`
}

func (Capability) TableName() string { return "capabilities" }

type PlanCapability struct {
	PlanID        string `json:"plan_id" gorm:"column:plan_id;primaryKey;type:varchar(50)"`
	CapabilityKey string `json:"capability_key" gorm:"column:capability_key;primaryKey;type:varchar(100)"`
}

func (PlanCapability) TableName() string { return "plan_capabilities" }

const PeriodMonthly = "monthly"

// PlanEventCap bounds the raw units of one event per period, independent of credits.
type PlanEventCap struct {
	PlanID      string  `json:"plan_id" gorm:"column:plan_id;primaryKey;type:varchar(50)"`
	EventKey    string  `json:"event_key" gorm:"column:event_key;primaryKey;type:varchar(100)"`
	Period      string  `json:"period" gorm:"column:period;primaryKey;type:varchar(20);default:monthly"`
	CapRawUnits float64 `json:"cap_raw_units" gorm:"not null"`
}

func (PlanEventCap) TableName() string { return "plan_event_caps" }
