package domain

import (
	"context"
	"errors"
)

type Service interface {
	Get(ctx context.Context, planID string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
	Create(ctx context.Context, req CreateRequest) (*Plan, error)
	Update(ctx context.Context, req UpdateRequest) (*Plan, error)

	Capabilities(ctx context.Context, planID string) ([]string, error)
	HasCapability(ctx context.Context, planID, capabilityKey string) (bool, error)
	ReplaceCapabilities(ctx context.Context, planID string, capabilityKeys []string) ([]string, error)
	EnsureCapability(ctx context.Context, key, description string) error

	EventCaps(ctx context.Context, planID string) ([]PlanEventCap, error)
	// EventCap returns nil when the plan does not cap the event for the period.
	EventCap(ctx context.Context, planID, eventKey, period string) (*PlanEventCap, error)
	ReplaceEventCaps(ctx context.Context, planID string, caps []EventCapInput) ([]PlanEventCap, error)
}

type CreateRequest struct {
	PlanID                string  `json:"plan_id"`
	Name                  string  `json:"name"`
	IncludedCredits       float64 `json:"included_credits"`
	OveragePricePerCredit float64 `json:"overage_price_per_credit"`
}

type UpdateRequest struct {
	PlanID                string   `json:"plan_id"`
	Name                  *string  `json:"name,omitempty"`
	IncludedCredits       *float64 `json:"included_credits,omitempty"`
	OveragePricePerCredit *float64 `json:"overage_price_per_credit,omitempty"`
}

type EventCapInput struct {
	EventKey    string  `json:"event_key"`
	Period      string  `json:"period"`
	CapRawUnits float64 `json:"cap_raw_units"`
}

var (
	ErrPlanNotFound      = errors.New("plan_not_found")
	ErrPlanExists        = errors.New("plan_exists")
	ErrInvalidPlanID     = errors.New("invalid_plan_id")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidAllowance  = errors.New("invalid_allowance")
	ErrUnknownCapability = errors.New("unknown_capability")
	ErrInvalidCap        = errors.New("invalid_event_cap")
	ErrInvalidPeriod     = errors.New("invalid_cap_period")
)
