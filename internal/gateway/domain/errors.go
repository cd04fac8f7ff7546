package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/smallbiznis/creditmeter/internal/authorization"
	dailylimitdomain "github.com/smallbiznis/creditmeter/internal/dailylimit/domain"
	entitlementdomain "github.com/smallbiznis/creditmeter/internal/entitlement/domain"
	idempotencydomain "github.com/smallbiznis/creditmeter/internal/idempotency/domain"
	"github.com/smallbiznis/creditmeter/internal/period"
	plandomain "github.com/smallbiznis/creditmeter/internal/plan/domain"
	ratecarddomain "github.com/smallbiznis/creditmeter/internal/ratecard/domain"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"github.com/smallbiznis/creditmeter/internal/tools"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	dbpkg "github.com/smallbiznis/creditmeter/pkg/db"
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindInvalid   Kind = "invalid"
	KindForbidden Kind = "forbidden"
	KindNotFound  Kind = "not_found"
	KindConflict  Kind = "conflict"
	KindQuota     Kind = "quota"
	KindRetryable Kind = "retryable"
	KindInternal  Kind = "internal"
)

// Status is the HTTP status a transport should answer with.
func (k Kind) Status() int {
	switch k {
	case KindInvalid:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQuota:
		return http.StatusTooManyRequests
	case KindRetryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var (
	invalidErrors = []error{
		ErrInvalidOperation,
		ErrMissingIdempotencyKey,
		ErrInvalidToolName,
		period.ErrMalformedDate,
		ratecarddomain.ErrUnknownEventType,
		ratecarddomain.ErrInvalidEventKey,
		ratecarddomain.ErrInvalidName,
		ratecarddomain.ErrInvalidUnit,
		ratecarddomain.ErrInvalidRate,
		ratecarddomain.ErrInvalidUnits,
		plandomain.ErrInvalidPlanID,
		plandomain.ErrInvalidName,
		plandomain.ErrInvalidAllowance,
		plandomain.ErrUnknownCapability,
		plandomain.ErrInvalidCap,
		plandomain.ErrInvalidPeriod,
		subscriptiondomain.ErrInvalidTenant,
		subscriptiondomain.ErrInvalidStatus,
		usagedomain.ErrInvalidTenant,
		usagedomain.ErrInvalidUser,
		usagedomain.ErrInvalidEventKey,
		entitlementdomain.ErrInvalidCapability,
		entitlementdomain.ErrInvalidRequestedUnits,
		dailylimitdomain.ErrInvalidTenant,
		dailylimitdomain.ErrInvalidEventKey,
		dailylimitdomain.ErrInvalidLimit,
		idempotencydomain.ErrInvalidKey,
		idempotencydomain.ErrInvalidEndpoint,
		idempotencydomain.ErrInvalidTenant,
		authorization.ErrInvalidTenant,
		authorization.ErrInvalidRole,
		authorization.ErrInvalidObject,
		authorization.ErrInvalidAction,
		tools.ErrInvalidName,
	}
	forbiddenErrors = []error{
		authorization.ErrForbidden,
		entitlementdomain.ErrCapabilityDenied,
		subscriptiondomain.ErrSubscriptionSuspended,
	}
	notFoundErrors = []error{
		subscriptiondomain.ErrSubscriptionNotFound,
		plandomain.ErrPlanNotFound,
		tools.ErrToolNotFound,
	}
	conflictErrors = []error{
		idempotencydomain.ErrIdempotencyConflict,
		idempotencydomain.ErrIdempotencyKeyRaced,
		subscriptiondomain.ErrSubscriptionExists,
		plandomain.ErrPlanExists,
		ratecarddomain.ErrEventTypeExists,
	}
	quotaErrors = []error{
		entitlementdomain.ErrEventCapExceeded,
		entitlementdomain.ErrCreditsQuotaExceeded,
		entitlementdomain.ErrQuotaExceeded,
		dailylimitdomain.ErrDailyLimitExceeded,
	}
	retryableErrors = []error{
		dbpkg.ErrRetryable,
		context.DeadlineExceeded,
		context.Canceled,
	}
)

// Classify maps err onto its Kind. Unknown errors are internal.
func Classify(err error) Kind {
	kind, _ := classify(err)
	return kind
}

// Code returns the stable snake_case code of the most specific known error in
// err's chain, or "internal_error".
func Code(err error) string {
	_, code := classify(err)
	return code
}

func classify(err error) (Kind, string) {
	if err == nil {
		return "", ""
	}
	// retryable goes first: a lock timeout may wrap any domain error
	groups := []struct {
		kind    Kind
		targets []error
	}{
		{KindRetryable, retryableErrors},
		{KindQuota, quotaErrors},
		{KindConflict, conflictErrors},
		{KindForbidden, forbiddenErrors},
		{KindNotFound, notFoundErrors},
		{KindInvalid, invalidErrors},
	}
	for _, group := range groups {
		for _, target := range group.targets {
			if errors.Is(err, target) {
				return group.kind, codeOf(target)
			}
		}
	}
	if dbpkg.IsRetryable(err) {
		return KindRetryable, dbpkg.ErrRetryable.Error()
	}
	return KindInternal, "internal_error"
}

func codeOf(target error) string {
	switch target {
	case context.Canceled:
		return "request_canceled"
	case context.DeadlineExceeded:
		return "deadline_exceeded"
	default:
		return target.Error()
	}
}
