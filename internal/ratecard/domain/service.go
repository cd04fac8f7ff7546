package domain

import (
	"context"
	"errors"
	"fmt"
)

type Service interface {
	// Lookup returns nil without error when the key is unknown, or inactive and activeOnly is set.
	Lookup(ctx context.Context, eventKey string, activeOnly bool) (*MeteredEventType, error)
	// Resolve is Lookup(activeOnly=true) that fails with UnknownEventTypeError.
	Resolve(ctx context.Context, eventKey string) (*MeteredEventType, error)
	Convert(et *MeteredEventType, rawUnits float64) (Conversion, error)
	GetMany(ctx context.Context, eventKeys []string) (map[string]MeteredEventType, error)
	List(ctx context.Context) ([]MeteredEventType, error)
	Create(ctx context.Context, req CreateRequest) (*MeteredEventType, error)
	Update(ctx context.Context, req UpdateRequest) (*MeteredEventType, error)
}

type CreateRequest struct {
	EventKey           string  `json:"event_key"`
	DisplayName        string  `json:"display_name"`
	Description        string  `json:"description"`
	UnitName           string  `json:"unit_name"`
	CreditsPerUnit     float64 `json:"credits_per_unit"`
	ListPricePerCredit float64 `json:"list_price_per_credit"`
	Billable           *bool   `json:"billable,omitempty"`
	Active             *bool   `json:"active,omitempty"`
}

type UpdateRequest struct {
	EventKey           string   `json:"event_key"`
	DisplayName        *string  `json:"display_name,omitempty"`
	Description        *string  `json:"description,omitempty"`
	UnitName           *string  `json:"unit_name,omitempty"`
	CreditsPerUnit     *float64 `json:"credits_per_unit,omitempty"`
	ListPricePerCredit *float64 `json:"list_price_per_credit,omitempty"`
	Billable           *bool    `json:"billable,omitempty"`
	Active             *bool    `json:"active,omitempty"`
}

var (
	ErrUnknownEventType = errors.New("unknown_event_type")
	ErrInvalidEventKey  = errors.New("invalid_event_key")
	ErrInvalidName      = errors.New("invalid_display_name")
	ErrInvalidUnit      = errors.New("invalid_unit_name")
	ErrInvalidRate      = errors.New("invalid_rate")
	ErrInvalidUnits     = errors.New("invalid_raw_units")
	ErrEventTypeExists  = errors.New("event_type_exists")
)

// UnknownEventTypeError is returned when an event key is missing from the rate
// card or has been deactivated.
type UnknownEventTypeError struct {
	EventKey string
	Inactive bool
}

func (e *UnknownEventTypeError) Error() string {
	if e.Inactive {
		return fmt.Sprintf("event type %q is inactive", e.EventKey)
	}
	return fmt.Sprintf("unknown event type %q", e.EventKey)
}

func (e *UnknownEventTypeError) Unwrap() error { return ErrUnknownEventType }
