package domain

import (
	"context"
	"errors"
	"fmt"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*TenantSubscription, error)
	// Update creates the default subscription when the tenant has none.
	Update(ctx context.Context, req UpdateRequest) (*TenantSubscription, error)
	Get(ctx context.Context, tenantID string) (*TenantSubscription, error)
	// Lock re-reads the subscription under a row lock. It must run inside a
	// transaction bound to ctx; the lock is held until that transaction ends.
	Lock(ctx context.Context, tenantID string) (*TenantSubscription, error)
	List(ctx context.Context, planID string) ([]TenantSubscription, error)
}

type CreateRequest struct {
	TenantID string             `json:"tenant_id"`
	PlanID   string             `json:"plan_id"`
	Status   SubscriptionStatus `json:"status"`
	// PeriodStart defaults to the current period when empty. Any date in the
	// month is normalized to the first of that month.
	PeriodStart string `json:"period_start"`
}

type UpdateRequest struct {
	TenantID    string              `json:"tenant_id"`
	PlanID      *string             `json:"plan_id,omitempty"`
	Status      *SubscriptionStatus `json:"status,omitempty"`
	PeriodStart *string             `json:"period_start,omitempty"`
}

var (
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrSubscriptionSuspended = errors.New("subscription_suspended")
	ErrSubscriptionExists    = errors.New("subscription_exists")
	ErrInvalidTenant         = errors.New("invalid_tenant")
	ErrInvalidStatus         = errors.New("invalid_subscription_status")
	ErrLockRequiresTx        = errors.New("subscription_lock_requires_tx")
)

// SubscriptionNotFoundError reports a tenant without a subscription row.
type SubscriptionNotFoundError struct {
	TenantID string
}

func (e *SubscriptionNotFoundError) Error() string {
	return fmt.Sprintf("tenant %q has no subscription", e.TenantID)
}

func (e *SubscriptionNotFoundError) Unwrap() error { return ErrSubscriptionNotFound }

// SubscriptionSuspendedError reports a subscription whose status is not active.
type SubscriptionSuspendedError struct {
	TenantID string
	Status   SubscriptionStatus
}

func (e *SubscriptionSuspendedError) Error() string {
	return fmt.Sprintf("subscription for tenant %q is %s", e.TenantID, e.Status)
}

func (e *SubscriptionSuspendedError) Unwrap() error { return ErrSubscriptionSuspended }
