package service

import (
	"context"
	"math"
	"strings"

	billingdomain "github.com/smallbiznis/creditmeter/internal/billing/domain"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/period"
	plandomain "github.com/smallbiznis/creditmeter/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	SubSvc  subscriptiondomain.Service
	PlanSvc plandomain.Service
	Usage   usagedomain.Service
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	subSvc  subscriptiondomain.Service
	planSvc plandomain.Service
	usage   usagedomain.Service
}

func New(p Params) billingdomain.Service {
	return &Service{
		log:     p.Log.Named("billing.service"),
		clock:   p.Clock,
		subSvc:  p.SubSvc,
		planSvc: p.PlanSvc,
		usage:   p.Usage,
	}
}

func (s *Service) UsageView(ctx context.Context, tenantID, periodStart string) (*billingdomain.UsageView, error) {
	window := period.Current(s.clock)
	if strings.TrimSpace(periodStart) != "" {
		start, err := period.Normalize(periodStart)
		if err != nil {
			return nil, err
		}
		end, err := period.End(start)
		if err != nil {
			return nil, err
		}
		window = period.Window{Start: start, End: end}
	}

	sub, err := s.subSvc.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planSvc.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	summary, err := s.usage.PeriodUsage(ctx, sub.TenantID, window.Start)
	if err != nil {
		return nil, err
	}

	used := summary.TotalCredits
	overage := math.Max(0, used-plan.IncludedCredits)

	return &billingdomain.UsageView{
		TenantID:    sub.TenantID,
		PlanID:      plan.PlanID,
		Status:      sub.Status,
		PeriodStart: window.Start,
		PeriodEnd:   window.End,
		Plan:        *plan,
		Credits: billingdomain.Credits{
			Included:             plan.IncludedCredits,
			Used:                 used,
			Remaining:            math.Max(0, plan.IncludedCredits-used),
			OverageCredits:       overage,
			EstimatedOverageCost: overage * plan.OveragePricePerCredit,
			EstimatedListCost:    summary.TotalCost,
		},
		Breakdown: summary.Breakdown,
	}, nil
}
