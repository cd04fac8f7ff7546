package domain

import (
	"context"
	"errors"
)

type Service interface {
	// Record is the only write path for the ledger and the rollups. It joins
	// the transaction bound to ctx when there is one.
	Record(ctx context.Context, req RecordRequest) (*RecordResult, error)

	PeriodUsage(ctx context.Context, tenantID, periodStart string) (*PeriodSummary, error)
	// EventUsage returns zero totals when nothing was recorded yet.
	EventUsage(ctx context.Context, tenantID, periodStart, eventKey string) (EventTotals, error)
	TotalCreditsUsed(ctx context.Context, tenantID, periodStart string) (float64, error)

	Ledger(ctx context.Context, req LedgerRequest) (*LedgerResponse, error)
	LedgerTotals(ctx context.Context, filter TotalsFilter) ([]Totals, error)
	Rollups(ctx context.Context, filter TotalsFilter) ([]Totals, error)
	// VerifyRollup reads one rollup row and its ledger sum while holding the
	// row lock, so a concurrent Record is counted by both or by neither.
	VerifyRollup(ctx context.Context, tenantID, periodStart, eventKey string) (*Verification, error)
	// RepairRollup overwrites one rollup row with sums taken from the ledger.
	RepairRollup(ctx context.Context, tenantID, periodStart, eventKey string) (*Totals, error)
}

// Verification pairs a rollup row with the ledger sum read in the same
// transaction.
type Verification struct {
	Rollup Totals `json:"rollup"`
	Ledger Totals `json:"ledger"`
}

type RecordRequest struct {
	TenantID      string  `json:"tenant_id"`
	UserID        string  `json:"user_id"`
	EventKey      string  `json:"event_key"`
	RawUnits      float64 `json:"raw_units"`
	CorrelationID string  `json:"correlation_id"`
	ToolName      string  `json:"tool_name,omitempty"`
}

type RecordResult struct {
	EventID     string  `json:"event_id"`
	EventKey    string  `json:"event_key"`
	RawUnits    float64 `json:"raw_units"`
	Credits     float64 `json:"credits"`
	Cost        float64 `json:"cost"`
	PeriodStart string  `json:"period_start"`
	RequestID   string  `json:"request_id"`
}

type EventTotals struct {
	RawUnits float64 `json:"raw_units"`
	Credits  float64 `json:"credits"`
}

type EventBreakdown struct {
	EventKey    string  `json:"event_key"`
	DisplayName string  `json:"display_name"`
	UnitName    string  `json:"unit_name"`
	RawUnits    float64 `json:"raw_units"`
	Credits     float64 `json:"credits"`
	Cost        float64 `json:"cost"`
}

type PeriodSummary struct {
	TenantID     string           `json:"tenant_id"`
	PeriodStart  string           `json:"period_start"`
	TotalCredits float64          `json:"total_credits"`
	TotalCost    float64          `json:"total_cost"`
	Breakdown    []EventBreakdown `json:"breakdown"`
}

type LedgerRequest struct {
	TenantID    string `json:"tenant_id"`
	PeriodStart string `json:"period_start"`
	Limit       int    `json:"limit"`
}

type LedgerResponse struct {
	PeriodStart string       `json:"period_start"`
	Items       []UsageEvent `json:"items"`
}

// TotalsFilter narrows aggregate reads. An empty TenantID spans all tenants.
type TotalsFilter struct {
	TenantID    string `json:"tenant_id"`
	PeriodStart string `json:"period_start"`
}

const (
	DefaultLedgerLimit = 200
	MaxLedgerLimit     = 1000
)

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidUser     = errors.New("invalid_user")
	ErrInvalidEventKey = errors.New("invalid_event_key")
	ErrRollupNotFound  = errors.New("rollup_not_found")
)
