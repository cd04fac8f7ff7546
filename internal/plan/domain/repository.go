package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	InsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	UpdatePlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindPlan(ctx context.Context, db *gorm.DB, planID string) (*Plan, error)
	ListPlans(ctx context.Context, db *gorm.DB) ([]Plan, error)

	FindCapabilities(ctx context.Context, db *gorm.DB, keys []string) ([]Capability, error)
	InsertCapabilityIfAbsent(ctx context.Context, db *gorm.DB, capability *Capability) error

	ListPlanCapabilities(ctx context.Context, db *gorm.DB, planID string) ([]string, error)
	HasPlanCapability(ctx context.Context, db *gorm.DB, planID, capabilityKey string) (bool, error)
	ReplacePlanCapabilities(ctx context.Context, db *gorm.DB, planID string, keys []string) error

	ListEventCaps(ctx context.Context, db *gorm.DB, planID string) ([]PlanEventCap, error)
	FindEventCap(ctx context.Context, db *gorm.DB, planID, eventKey, period string) (*PlanEventCap, error)
	ReplaceEventCaps(ctx context.Context, db *gorm.DB, planID string, caps []PlanEventCap) error
}
