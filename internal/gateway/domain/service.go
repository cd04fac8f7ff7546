// Package domain declares the metered gateway: one transaction that admits,
// performs and meters a tenant action.
package domain

import (
	"context"
	"errors"

	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"github.com/smallbiznis/creditmeter/pkg/jsonvalue"
)

const EndpointToolInvoke = "/v1/tools/invoke"

type Service interface {
	// Execute runs op under the tenant's subscription lock. Every write it
	// makes commits or rolls back together.
	Execute(ctx context.Context, op Operation) (*Result, error)
	InvokeTool(ctx context.Context, req ToolInvokeRequest) (*ToolInvokeResponse, error)
}

// PerformFunc produces the response of a metered action. It runs inside the
// admission transaction after every check passed; returning an error rolls
// the whole admission back.
type PerformFunc func(ctx context.Context, exec Execution) (jsonvalue.Value, error)

type Operation struct {
	TenantID       string
	UserID         string
	Endpoint       string
	IdempotencyKey string
	Body           jsonvalue.Value
	Capability     string
	EventKey       string
	RawUnits       float64
	ToolName       string
	Perform        PerformFunc
}

// Execution is what Perform learns about the admission it runs under.
type Execution struct {
	RequestID        string
	PeriodStart      string
	RequestedCredits float64
}

type Result struct {
	RequestID string
	Response  jsonvalue.Value
	// Replayed is set when the response came from the idempotency store and
	// nothing was performed or metered.
	Replayed bool
	Usage    *usagedomain.RecordResult
}

type ToolInvokeRequest struct {
	TenantID       string          `json:"-"`
	UserID         string          `json:"-"`
	Role           string          `json:"-"`
	IdempotencyKey string          `json:"-"`
	ToolName       string          `json:"tool_name"`
	Payload        jsonvalue.Value `json:"payload"`
}

type ToolInvokeResponse struct {
	RequestID string          `json:"request_id"`
	Result    jsonvalue.Value `json:"result"`
	Replayed  bool            `json:"-"`
}

var (
	ErrInvalidOperation        = errors.New("invalid_operation")
	ErrMissingIdempotencyKey   = errors.New("missing_idempotency_key")
	ErrInvalidToolName         = errors.New("invalid_tool_name")
	ErrCorruptReplayedResponse = errors.New("corrupt_replayed_response")
)
