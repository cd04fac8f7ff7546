package domain

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusCanceled  SubscriptionStatus = "canceled"
)

// DefaultPlanID is assigned to tenants provisioned without an explicit plan.
const DefaultPlanID = "starter"

// TenantSubscription binds one tenant to a plan and its current billing window.
// PeriodStart and PeriodEnd are YYYY-MM-DD dates; the window is half-open.
type TenantSubscription struct {
	TenantID    string             `json:"tenant_id" gorm:"column:tenant_id;primaryKey;type:varchar(36)"`
	PlanID      string             `json:"plan_id" gorm:"type:varchar(50);not null;index"`
	Status      SubscriptionStatus `json:"status" gorm:"type:varchar(20);not null;default:active"`
	PeriodStart string             `json:"period_start" gorm:"type:varchar(10);not null"`
	PeriodEnd   string             `json:"period_end" gorm:"type:varchar(10);not null"`
	CreatedAt   time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time          `json:"updated_at" gorm:"not null"`
}

func (TenantSubscription) TableName() string { return "tenant_subscriptions" }

// CanAct reports whether the subscription allows metered work.
func (s *TenantSubscription) CanAct() bool {
	return s != nil && s.Status == SubscriptionStatusActive
}

func ValidStatus(status SubscriptionStatus) bool {
	switch status {
	case SubscriptionStatusActive, SubscriptionStatusSuspended, SubscriptionStatusCanceled:
		return true
	}
	return false
}
