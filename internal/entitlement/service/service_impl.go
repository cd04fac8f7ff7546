package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/smallbiznis/creditmeter/internal/clock"
	entitlementdomain "github.com/smallbiznis/creditmeter/internal/entitlement/domain"
	obslogger "github.com/smallbiznis/creditmeter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditmeter/internal/observability/metrics"
	"github.com/smallbiznis/creditmeter/internal/period"
	plandomain "github.com/smallbiznis/creditmeter/internal/plan/domain"
	ratecarddomain "github.com/smallbiznis/creditmeter/internal/ratecard/domain"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	SubSvc   subscriptiondomain.Service
	PlanSvc  plandomain.Service
	RateCard ratecarddomain.Service
	Usage    usagedomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	subSvc   subscriptiondomain.Service
	planSvc  plandomain.Service
	rateCard ratecarddomain.Service
	usage    usagedomain.Service
	metrics  *obsmetrics.Metrics
}

func New(p Params) entitlementdomain.Service {
	return &Service{
		log:      p.Log.Named("entitlement.service"),
		clock:    p.Clock,
		subSvc:   p.SubSvc,
		planSvc:  p.PlanSvc,
		rateCard: p.RateCard,
		usage:    p.Usage,
		metrics:  p.Metrics,
	}
}

func (s *Service) CheckEntitlement(ctx context.Context, tenantID, capability string) error {
	capability = strings.TrimSpace(capability)
	if capability == "" {
		return entitlementdomain.ErrInvalidCapability
	}

	sub, err := s.activeSubscription(ctx, tenantID)
	if err != nil {
		s.metrics.RecordEntitlementDenied(ctx, capability, denialReason(err))
		return err
	}

	ok, err := s.planSvc.HasCapability(ctx, sub.PlanID, capability)
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.RecordEntitlementDenied(ctx, capability, "capability")
		obslogger.WithContext(ctx, s.log).Info("capability denied",
			zap.String("tenant_id", sub.TenantID),
			zap.String("plan_id", sub.PlanID),
			zap.String("capability", capability),
		)
		return &entitlementdomain.CapabilityDeniedError{
			TenantID:   sub.TenantID,
			PlanID:     sub.PlanID,
			Capability: capability,
		}
	}
	return nil
}

func (s *Service) CheckQuota(ctx context.Context, tenantID, eventKey string, requestedRawUnits float64) (*entitlementdomain.QuotaCheck, error) {
	if err := ratecarddomain.ValidateUnits(requestedRawUnits); err != nil {
		return nil, entitlementdomain.ErrInvalidRequestedUnits
	}
	eventKey = strings.TrimSpace(eventKey)

	sub, err := s.activeSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planSvc.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	periodStart := period.Current(s.clock).Start

	et, err := s.rateCard.Resolve(ctx, eventKey)
	if err != nil {
		return nil, err
	}
	conv, err := s.rateCard.Convert(et, requestedRawUnits)
	if err != nil {
		return nil, err
	}

	usedCredits, err := s.usage.TotalCreditsUsed(ctx, sub.TenantID, periodStart)
	if err != nil {
		return nil, err
	}
	if usedCredits+conv.Credits > plan.IncludedCredits {
		s.metrics.RecordQuotaDenied(ctx, eventKey, "credits")
		return nil, &entitlementdomain.CreditsQuotaExceededError{
			PeriodStart:       periodStart,
			EventKey:          eventKey,
			LimitCredits:      plan.IncludedCredits,
			UsedCredits:       usedCredits,
			RequestedCredits:  conv.Credits,
			RequestedRawUnits: requestedRawUnits,
		}
	}

	eventCap, err := s.planSvc.EventCap(ctx, sub.PlanID, eventKey, plandomain.PeriodMonthly)
	if err != nil {
		return nil, err
	}
	if eventCap != nil {
		used, err := s.usage.EventUsage(ctx, sub.TenantID, periodStart, eventKey)
		if err != nil {
			return nil, err
		}
		if used.RawUnits+requestedRawUnits > eventCap.CapRawUnits {
			s.metrics.RecordQuotaDenied(ctx, eventKey, "event_cap")
			return nil, &entitlementdomain.EventCapExceededError{
				PeriodStart:       periodStart,
				EventKey:          eventKey,
				CapRawUnits:       eventCap.CapRawUnits,
				UsedRawUnits:      used.RawUnits,
				RequestedRawUnits: requestedRawUnits,
				LimitCredits:      plan.IncludedCredits,
				UsedCredits:       usedCredits,
				RequestedCredits:  conv.Credits,
			}
		}
	}

	return &entitlementdomain.QuotaCheck{
		PeriodStart:      periodStart,
		RequestedCredits: conv.Credits,
	}, nil
}

func (s *Service) RemainingQuota(ctx context.Context, tenantID, eventKey string) (*entitlementdomain.RemainingQuota, error) {
	empty := &entitlementdomain.RemainingQuota{}

	sub, err := s.activeSubscription(ctx, tenantID)
	if err != nil {
		if isInactive(err) {
			return empty, nil
		}
		return nil, err
	}
	plan, err := s.planSvc.Get(ctx, sub.PlanID)
	if err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) {
			return empty, nil
		}
		return nil, err
	}

	periodStart := period.Current(s.clock).Start
	usedCredits, err := s.usage.TotalCreditsUsed(ctx, sub.TenantID, periodStart)
	if err != nil {
		return nil, err
	}
	remaining := &entitlementdomain.RemainingQuota{
		RemainingCredits: math.Max(0, plan.IncludedCredits-usedCredits),
	}

	et, err := s.rateCard.Lookup(ctx, eventKey, true)
	if err != nil {
		return nil, err
	}
	if et == nil || et.CreditsPerUnit <= 0 {
		return remaining, nil
	}

	allowed := remaining.RemainingCredits / et.CreditsPerUnit

	eventCap, err := s.planSvc.EventCap(ctx, sub.PlanID, et.EventKey, plandomain.PeriodMonthly)
	if err != nil {
		return nil, err
	}
	if eventCap != nil {
		used, err := s.usage.EventUsage(ctx, sub.TenantID, periodStart, et.EventKey)
		if err != nil {
			return nil, err
		}
		remainingCap := math.Max(0, eventCap.CapRawUnits-used.RawUnits)
		remaining.RemainingCap = &remainingCap
		allowed = math.Min(allowed, remainingCap)
	}

	remaining.AllowedUnits = floorUnits(allowed)
	return remaining, nil
}

// floorUnits floors allowed into an int64, saturating at math.MaxInt64 for
// allowances too large to represent.
func floorUnits(allowed float64) int64 {
	switch {
	case math.IsNaN(allowed) || allowed <= 0:
		return 0
	case allowed >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(math.Floor(allowed))
}

func (s *Service) activeSubscription(ctx context.Context, tenantID string) (*subscriptiondomain.TenantSubscription, error) {
	sub, err := s.subSvc.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !sub.CanAct() {
		return nil, &subscriptiondomain.SubscriptionSuspendedError{TenantID: sub.TenantID, Status: sub.Status}
	}
	return sub, nil
}

func isInactive(err error) bool {
	return errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) ||
		errors.Is(err, subscriptiondomain.ErrSubscriptionSuspended)
}

func denialReason(err error) string {
	switch {
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		return "no_subscription"
	case errors.Is(err, subscriptiondomain.ErrSubscriptionSuspended):
		return "suspended"
	default:
		return "error"
	}
}
