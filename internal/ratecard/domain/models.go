package domain

import (
	"time"
)

// MeteredEventType is one rate-card row: how many credits a raw unit of an
// event costs and what a credit lists for.
type MeteredEventType struct {
	EventKey           string    `json:"event_key" gorm:"column:event_key;primaryKey;type:varchar(100)"`
	DisplayName        string    `json:"display_name" gorm:"type:varchar(255);not null"`
	Description        string    `json:"description" gorm:"type:text"`
	UnitName           string    `json:"unit_name" gorm:"type:varchar(50);not null"`
	CreditsPerUnit     float64   `json:"credits_per_unit" gorm:"not null;default:0"`
	ListPricePerCredit float64   `json:"list_price_per_credit" gorm:"not null;default:0"`
	Billable           bool      `json:"billable" gorm:"not null;default:true"`
	Active             bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt          time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (MeteredEventType) TableName() string { return "metered_event_types" }
