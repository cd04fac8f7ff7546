// Package domain describes a tenant's billing position for one period.
package domain

import (
	"context"

	plandomain "github.com/smallbiznis/creditmeter/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
)

type Service interface {
	// UsageView reports the tenant's plan allowance against what it used in
	// the period. An empty periodStart means the current period.
	UsageView(ctx context.Context, tenantID, periodStart string) (*UsageView, error)
}

type Credits struct {
	Included             float64 `json:"included"`
	Used                 float64 `json:"used"`
	Remaining            float64 `json:"remaining"`
	OverageCredits       float64 `json:"overage_credits"`
	EstimatedOverageCost float64 `json:"estimated_overage_cost"`
	EstimatedListCost    float64 `json:"estimated_list_cost"`
}

type UsageView struct {
	TenantID    string                                `json:"tenant_id"`
	PlanID      string                                `json:"plan_id"`
	Status      subscriptiondomain.SubscriptionStatus `json:"status"`
	PeriodStart string                                `json:"period_start"`
	PeriodEnd   string                                `json:"period_end"`
	Plan        plandomain.Plan                       `json:"plan"`
	Credits     Credits                               `json:"credits"`
	Breakdown   []usagedomain.EventBreakdown          `json:"breakdown"`
}
