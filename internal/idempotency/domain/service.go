package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/creditmeter/pkg/jsonvalue"
)

type Service interface {
	// Check returns nil when the key is new, and the stored response when the
	// same body was seen before.
	Check(ctx context.Context, req CheckRequest) (*jsonvalue.Value, error)
	// Store must run in the transaction that performs the guarded side effect.
	Store(ctx context.Context, req StoreRequest) error
}

type CheckRequest struct {
	TenantID string
	Endpoint string
	Key      string
	Body     jsonvalue.Value
}

type StoreRequest struct {
	TenantID string
	Endpoint string
	Key      string
	Body     jsonvalue.Value
	Response jsonvalue.Value
}

var (
	ErrIdempotencyConflict  = errors.New("idempotency_conflict")
	ErrIdempotencyKeyRaced  = errors.New("idempotency_key_raced")
	ErrInvalidKey           = errors.New("invalid_idempotency_key")
	ErrInvalidEndpoint      = errors.New("invalid_endpoint")
	ErrInvalidTenant        = errors.New("invalid_tenant")
	ErrCorruptStoredPayload = errors.New("idempotency_corrupt_response")
)

// IdempotencyConflictError reports a key reused with a different request body.
type IdempotencyConflictError struct {
	TenantID string
	Endpoint string
	Key      string
}

func (e *IdempotencyConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q on %s was used with a different request body", e.Key, e.Endpoint)
}

func (e *IdempotencyConflictError) Unwrap() error { return ErrIdempotencyConflict }
