package service

import (
	"context"
	"testing"
	"time"

	plandomain "github.com/smallbiznis/creditmeter/internal/plan/domain"
	"github.com/smallbiznis/creditmeter/internal/plan/repository"
	ratecarddomain "github.com/smallbiznis/creditmeter/internal/ratecard/domain"
	ratecardrepository "github.com/smallbiznis/creditmeter/internal/ratecard/repository"
	ratecardservice "github.com/smallbiznis/creditmeter/internal/ratecard/service"
	"github.com/smallbiznis/creditmeter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) plandomain.Service {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.SeedDefaults(t, db)

	rateCard := ratecardservice.New(ratecardservice.Params{DB: db, Log: zap.NewNop(), Repo: ratecardrepository.Provide()})
	return New(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide(), RateCard: rateCard})
}

func TestSeededPlansAndCapabilities(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	plans, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "starter", plans[0].PlanID)
	assert.Equal(t, 500.0, plans[0].IncludedCredits)

	caps, err := svc.Capabilities(ctx, "growth")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chat", "tools", "briefs", "notifications", "kpi_ingest", "kpi_read"}, caps)

	ok, err := svc.HasCapability(ctx, "starter", "tools")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasCapability(ctx, "starter", "teleport")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEventCapLookup(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	briefCap, err := svc.EventCap(ctx, "starter", "daily_brief_generated", "")
	require.NoError(t, err)
	require.NotNil(t, briefCap)
	assert.Equal(t, 50.0, briefCap.CapRawUnits)

	none, err := svc.EventCap(ctx, "growth", "daily_brief_generated", plandomain.PeriodMonthly)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCreateAndUpdatePlan(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, plandomain.CreateRequest{PlanID: "tiny", IncludedCredits: 2, OveragePricePerCredit: 0.05})
	require.NoError(t, err)
	assert.Equal(t, "tiny", created.Name)

	_, err = svc.Create(ctx, plandomain.CreateRequest{PlanID: "tiny"})
	assert.ErrorIs(t, err, plandomain.ErrPlanExists)

	included := 4.0
	updated, err := svc.Update(ctx, plandomain.UpdateRequest{PlanID: "tiny", IncludedCredits: &included})
	require.NoError(t, err)
	assert.Equal(t, 4.0, updated.IncludedCredits)
	assert.Equal(t, 0.05, updated.OveragePricePerCredit)

	_, err = svc.Get(ctx, "ghost")
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}

func TestReplaceCapabilitiesValidatesKeys(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	keys, err := svc.ReplaceCapabilities(ctx, "starter", []string{"chat", " chat ", "kpi_read"})
	require.NoError(t, err)
	assert.Equal(t, []string{"chat", "kpi_read"}, keys)

	caps, err := svc.Capabilities(ctx, "starter")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chat", "kpi_read"}, caps)

	_, err = svc.ReplaceCapabilities(ctx, "starter", []string{"chat", "teleport"})
	assert.ErrorIs(t, err, plandomain.ErrUnknownCapability)

	// the failed replace left the previous set intact
	caps, err = svc.Capabilities(ctx, "starter")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chat", "kpi_read"}, caps)
}

func TestReplaceEventCapsValidatesEventKeys(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	caps, err := svc.ReplaceEventCaps(ctx, "growth", []plandomain.EventCapInput{
		{EventKey: "tool_invocation", CapRawUnits: 1},
	})
	require.NoError(t, err)
	require.Len(t, caps, 1)
	assert.Equal(t, plandomain.PeriodMonthly, caps[0].Period)

	_, err = svc.ReplaceEventCaps(ctx, "growth", []plandomain.EventCapInput{{EventKey: "ghost", CapRawUnits: 1}})
	assert.ErrorIs(t, err, ratecarddomain.ErrUnknownEventType)

	_, err = svc.ReplaceEventCaps(ctx, "growth", []plandomain.EventCapInput{{EventKey: "tool_invocation", Period: "daily", CapRawUnits: 1}})
	assert.ErrorIs(t, err, plandomain.ErrInvalidPeriod)

	stored, err := svc.EventCaps(ctx, "growth")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 1.0, stored[0].CapRawUnits)
}

func TestCreateAndUpdateStampWithInjectedClock(t *testing.T) {
	db := testutil.OpenDB(t)
	testutil.SeedDefaults(t, db)
	clk := testutil.Clock(2025, time.June, 3, 12)

	rateCard := ratecardservice.New(ratecardservice.Params{DB: db, Log: zap.NewNop(), Repo: ratecardrepository.Provide()})
	svc := New(Params{DB: db, Log: zap.NewNop(), Clock: clk, Repo: repository.Provide(), RateCard: rateCard})
	ctx := context.Background()

	created, err := svc.Create(ctx, plandomain.CreateRequest{PlanID: "pilot", IncludedCredits: 50})
	require.NoError(t, err)
	assert.True(t, created.CreatedAt.Equal(clk.Now()))
	assert.True(t, created.UpdatedAt.Equal(clk.Now()))

	clk.Advance(time.Hour)
	credits := 75.0
	updated, err := svc.Update(ctx, plandomain.UpdateRequest{PlanID: "pilot", IncludedCredits: &credits})
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.Equal(clk.Now()))
	assert.True(t, updated.CreatedAt.Before(updated.UpdatedAt))
}
