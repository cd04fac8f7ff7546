package authorization

import (
	"context"
	"errors"
)

type Service interface {
	// Authorize checks whether role may perform action on object inside the
	// tenant. It reads only the in-memory policy and is safe to call inside a
	// transaction.
	Authorize(ctx context.Context, tenantID, role, object, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
