// Package domain declares the admission checks run before a metered action
// and the denials they return.
package domain

import (
	"context"
	"errors"
	"fmt"
)

type Service interface {
	// CheckEntitlement fails when the tenant cannot act or its plan lacks
	// capability. It has no side effects.
	CheckEntitlement(ctx context.Context, tenantID, capability string) error
	// CheckQuota is advisory on its own: it reserves nothing. Callers that need
	// the answer to hold until usage is recorded run it under the tenant lock.
	CheckQuota(ctx context.Context, tenantID, eventKey string, requestedRawUnits float64) (*QuotaCheck, error)
	// RemainingQuota never fails on a missing or suspended subscription; it
	// reports a zero allowance instead.
	RemainingQuota(ctx context.Context, tenantID, eventKey string) (*RemainingQuota, error)
}

type QuotaCheck struct {
	PeriodStart      string  `json:"period_start"`
	RequestedCredits float64 `json:"requested_credits"`
}

type RemainingQuota struct {
	RemainingCredits float64  `json:"remaining_credits"`
	RemainingCap     *float64 `json:"remaining_raw_units_cap"`
	AllowedUnits     int64    `json:"allowed_raw_units"`
}

var (
	ErrCapabilityDenied      = errors.New("capability_denied")
	ErrQuotaExceeded         = errors.New("quota_exceeded")
	ErrCreditsQuotaExceeded  = errors.New("credits_quota_exceeded")
	ErrEventCapExceeded      = errors.New("event_cap_exceeded")
	ErrInvalidCapability     = errors.New("invalid_capability")
	ErrInvalidRequestedUnits = errors.New("invalid_requested_units")
)

type CapabilityDeniedError struct {
	TenantID   string
	PlanID     string
	Capability string
}

func (e *CapabilityDeniedError) Error() string {
	return fmt.Sprintf("plan %s does not include capability %s", e.PlanID, e.Capability)
}

func (e *CapabilityDeniedError) Unwrap() error { return ErrCapabilityDenied }

// CreditsQuotaExceededError reports that the request would take the tenant
// past the plan's included credits for the period.
type CreditsQuotaExceededError struct {
	PeriodStart       string
	EventKey          string
	LimitCredits      float64
	UsedCredits       float64
	RequestedCredits  float64
	RequestedRawUnits float64
}

func (e *CreditsQuotaExceededError) Error() string {
	return fmt.Sprintf("credits quota exceeded for %s in period %s: used %g + requested %g > limit %g",
		e.EventKey, e.PeriodStart, e.UsedCredits, e.RequestedCredits, e.LimitCredits)
}

func (e *CreditsQuotaExceededError) Unwrap() []error {
	return []error{ErrCreditsQuotaExceeded, ErrQuotaExceeded}
}

// EventCapExceededError reports that the request would take one event past
// its per-period raw unit cap.
type EventCapExceededError struct {
	PeriodStart       string
	EventKey          string
	CapRawUnits       float64
	UsedRawUnits      float64
	RequestedRawUnits float64
	LimitCredits      float64
	UsedCredits       float64
	RequestedCredits  float64
}

func (e *EventCapExceededError) Error() string {
	return fmt.Sprintf("event cap exceeded for %s in period %s: used %g + requested %g > cap %g",
		e.EventKey, e.PeriodStart, e.UsedRawUnits, e.RequestedRawUnits, e.CapRawUnits)
}

func (e *EventCapExceededError) Unwrap() []error {
	return []error{ErrEventCapExceeded, ErrQuotaExceeded}
}
