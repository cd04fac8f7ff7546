package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Service interface {
	// Limits returns the tenant's effective limits: its overrides merged over
	// the catalog defaults. Events with neither are unlimited and absent.
	Limits(ctx context.Context, tenantID string) (*Limits, error)
	// UpdateLimits stores overrides for the supplied events only. The caller's
	// role must be allowed to update limits.
	UpdateLimits(ctx context.Context, req UpdateRequest) (*Limits, error)
	// Check reports whether rawUnits more of eventKey fit in today's limit. Like
	// the credit quota it reserves nothing on its own.
	Check(ctx context.Context, tenantID, eventKey string, rawUnits float64) (*Check, error)
	// Increment adds to the day counter under its row lock. It joins the
	// transaction bound to ctx.
	Increment(ctx context.Context, req IncrementRequest) error
	// DailyUsage reports limits and counters for one day, today when date is
	// empty.
	DailyUsage(ctx context.Context, tenantID, date string) (*DailyUsage, error)
}

type Limits struct {
	TenantID string             `json:"tenant_id"`
	Limits   map[string]float64 `json:"limits"`
}

type UpdateRequest struct {
	TenantID string             `json:"-"`
	Role     string             `json:"-"`
	Limits   map[string]float64 `json:"limits"`
}

// Check is the outcome of an admitted daily limit check. Limit is nil for
// unlimited events.
type Check struct {
	Day       string    `json:"day"`
	EventKey  string    `json:"event_key"`
	Limit     *float64  `json:"limit"`
	Used      float64   `json:"used"`
	Remaining *float64  `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

type IncrementRequest struct {
	TenantID string
	Day      string
	EventKey string
	RawUnits float64
}

type DailyUsage struct {
	TenantID string             `json:"tenant_id"`
	Date     string             `json:"date"`
	Limits   map[string]float64 `json:"limits"`
	Usage    []UsageItem        `json:"usage"`
}

type UsageItem struct {
	EventKey string   `json:"event_key"`
	RawUnits float64  `json:"raw_units"`
	Limit    *float64 `json:"limit"`
}

var (
	ErrDailyLimitExceeded = errors.New("daily_limit_exceeded")
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrInvalidEventKey    = errors.New("invalid_event_key")
	ErrInvalidLimit       = errors.New("invalid_daily_limit")
	ErrRollupNotFound     = errors.New("daily_rollup_not_found")
)

// DailyLimitExceededError reports that the request would take one event past
// the tenant's limit for the day.
type DailyLimitExceededError struct {
	TenantID          string
	Day               string
	EventKey          string
	Limit             float64
	Used              float64
	RequestedRawUnits float64
	ResetAt           time.Time
}

func (e *DailyLimitExceededError) Error() string {
	return fmt.Sprintf("daily limit exceeded for %s on %s: used %g + requested %g > limit %g",
		e.EventKey, e.Day, e.Used, e.RequestedRawUnits, e.Limit)
}

func (e *DailyLimitExceededError) Unwrap() error { return ErrDailyLimitExceeded }
