package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/creditmeter/internal/authorization"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	dailylimitdomain "github.com/smallbiznis/creditmeter/internal/dailylimit/domain"
	"github.com/smallbiznis/creditmeter/internal/dailylimit/repository"
	"github.com/smallbiznis/creditmeter/internal/period"
	ratecarddomain "github.com/smallbiznis/creditmeter/internal/ratecard/domain"
	ratecardrepository "github.com/smallbiznis/creditmeter/internal/ratecard/repository"
	ratecardservice "github.com/smallbiznis/creditmeter/internal/ratecard/service"
	"github.com/smallbiznis/creditmeter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   dailylimitdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.SeedDefaults(t, db)

	log := zap.NewNop()
	clk := testutil.Clock(2025, time.June, 3, 10)

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)

	svc := New(Params{
		DB:       db,
		Log:      log,
		Clock:    clk,
		Repo:     repository.Provide(),
		RateCard: ratecardservice.New(ratecardservice.Params{DB: db, Log: log, Repo: ratecardrepository.Provide()}),
		Authz:    authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer}),
		Catalog:  config.NewStaticCatalogHolder(config.DefaultCatalog()),
	})
	return &fixture{db: db, clock: clk, svc: svc}
}

func (f *fixture) override(t *testing.T, tenantID string, limits map[string]float64) {
	t.Helper()
	_, err := f.svc.UpdateLimits(context.Background(), dailylimitdomain.UpdateRequest{
		TenantID: tenantID,
		Role:     authorization.RoleAdmin,
		Limits:   limits,
	})
	require.NoError(t, err)
}

func TestLimitsMergeOverridesOverCatalogDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	limits, err := f.svc.Limits(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		"assistant_query":       100,
		"tool_invocation":       100,
		"daily_brief_generated": 10,
		"notification_enqueued": 500,
	}, limits.Limits)

	updated, err := f.svc.UpdateLimits(ctx, dailylimitdomain.UpdateRequest{
		TenantID: "tenant-a",
		Role:     authorization.RoleAdmin,
		Limits:   map[string]float64{"tool_invocation": 5, " kpi_points_ingested ": 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, updated.Limits["tool_invocation"])
	assert.Equal(t, 1000.0, updated.Limits["kpi_points_ingested"])
	assert.Equal(t, 100.0, updated.Limits["assistant_query"])

	// a second update replaces the stored value
	f.override(t, "tenant-a", map[string]float64{"tool_invocation": 7})
	limits, err = f.svc.Limits(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 7.0, limits.Limits["tool_invocation"])

	other, err := f.svc.Limits(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Equal(t, 100.0, other.Limits["tool_invocation"])
	assert.NotContains(t, other.Limits, "kpi_points_ingested")
}

func TestUpdateLimitsRequiresAdmin(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpdateLimits(context.Background(), dailylimitdomain.UpdateRequest{
		TenantID: "tenant-a",
		Role:     "member",
		Limits:   map[string]float64{"tool_invocation": 1},
	})
	require.ErrorIs(t, err, authorization.ErrForbidden)

	var n int64
	require.NoError(t, f.db.Table("tenant_daily_limits").Count(&n).Error)
	assert.Zero(t, n)
}

func TestUpdateLimitsValidatesEveryEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		limits map[string]float64
		want   error
	}{
		{"negative", map[string]float64{"tool_invocation": -1}, dailylimitdomain.ErrInvalidLimit},
		{"nan", map[string]float64{"tool_invocation": math.NaN()}, dailylimitdomain.ErrInvalidLimit},
		{"infinite", map[string]float64{"tool_invocation": math.Inf(1)}, dailylimitdomain.ErrInvalidLimit},
		{"blank key", map[string]float64{" ": 1}, dailylimitdomain.ErrInvalidEventKey},
		{"unknown event", map[string]float64{"assistant_query": 5, "teleport": 1}, ratecarddomain.ErrUnknownEventType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.UpdateLimits(ctx, dailylimitdomain.UpdateRequest{
				TenantID: "tenant-a",
				Role:     authorization.RoleAdmin,
				Limits:   tc.limits,
			})
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// the valid entry next to the unknown one was rolled back
	limits, err := f.svc.Limits(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 100.0, limits.Limits["assistant_query"])

	_, err = f.svc.Limits(ctx, " ")
	assert.ErrorIs(t, err, dailylimitdomain.ErrInvalidTenant)
}

func TestCheckEnforcesTheLimitUntilMidnight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.override(t, "tenant-a", map[string]float64{"tool_invocation": 2})

	check, err := f.svc.Check(ctx, "tenant-a", "tool_invocation", 1)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-03", check.Day)
	require.NotNil(t, check.Limit)
	assert.Equal(t, 2.0, *check.Limit)
	require.NotNil(t, check.Remaining)
	assert.Equal(t, 1.0, *check.Remaining)
	assert.Equal(t, time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC), check.ResetAt)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.svc.Increment(ctx, dailylimitdomain.IncrementRequest{
			TenantID: "tenant-a", Day: check.Day, EventKey: "tool_invocation", RawUnits: 1,
		}))
	}

	_, err = f.svc.Check(ctx, "tenant-a", "tool_invocation", 1)
	var exceeded *dailylimitdomain.DailyLimitExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.ErrorIs(t, err, dailylimitdomain.ErrDailyLimitExceeded)
	assert.Equal(t, 2.0, exceeded.Used)
	assert.Equal(t, 2.0, exceeded.Limit)
	assert.Equal(t, "2025-06-03", exceeded.Day)
	assert.Equal(t, time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC), exceeded.ResetAt)

	// other tenants keep their own counters
	_, err = f.svc.Check(ctx, "tenant-b", "tool_invocation", 1)
	require.NoError(t, err)

	f.clock.Advance(14 * time.Hour)
	check, err = f.svc.Check(ctx, "tenant-a", "tool_invocation", 2)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-04", check.Day)
	assert.Zero(t, check.Used)
}

func TestCheckAllowsEventsWithoutALimit(t *testing.T) {
	f := newFixture(t)

	check, err := f.svc.Check(context.Background(), "tenant-a", "kpi_points_ingested", 1e9)
	require.NoError(t, err)
	assert.Nil(t, check.Limit)
	assert.Nil(t, check.Remaining)

	_, err = f.svc.Check(context.Background(), "tenant-a", "kpi_points_ingested", -1)
	assert.ErrorIs(t, err, ratecarddomain.ErrInvalidUnits)
}

func TestZeroLimitDeniesEverything(t *testing.T) {
	f := newFixture(t)
	f.override(t, "tenant-a", map[string]float64{"notification_enqueued": 0})

	_, err := f.svc.Check(context.Background(), "tenant-a", "notification_enqueued", 1)
	assert.ErrorIs(t, err, dailylimitdomain.ErrDailyLimitExceeded)

	check, err := f.svc.Check(context.Background(), "tenant-a", "notification_enqueued", 0)
	require.NoError(t, err)
	assert.Zero(t, *check.Remaining)
}

func TestDailyUsageReportsLimitedAndCountedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Increment(ctx, dailylimitdomain.IncrementRequest{TenantID: "tenant-a", EventKey: "kpi_points_ingested", RawUnits: 10}))
	require.NoError(t, f.svc.Increment(ctx, dailylimitdomain.IncrementRequest{TenantID: "tenant-a", EventKey: "tool_invocation", RawUnits: 1}))

	usage, err := f.svc.DailyUsage(ctx, "tenant-a", "")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-03", usage.Date)

	keys := make([]string, 0, len(usage.Usage))
	for _, item := range usage.Usage {
		keys = append(keys, item.EventKey)
	}
	assert.Equal(t, []string{"assistant_query", "daily_brief_generated", "kpi_points_ingested", "notification_enqueued", "tool_invocation"}, keys)

	kpi := usage.Usage[2]
	assert.Equal(t, 10.0, kpi.RawUnits)
	assert.Nil(t, kpi.Limit)
	tool := usage.Usage[4]
	assert.Equal(t, 1.0, tool.RawUnits)
	require.NotNil(t, tool.Limit)
	assert.Equal(t, 100.0, *tool.Limit)

	yesterday, err := f.svc.DailyUsage(ctx, "tenant-a", "2025-06-02")
	require.NoError(t, err)
	for _, item := range yesterday.Usage {
		assert.Zero(t, item.RawUnits, item.EventKey)
	}

	_, err = f.svc.DailyUsage(ctx, "tenant-a", "06/03/2025")
	assert.ErrorIs(t, err, period.ErrMalformedDate)
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.Increment(ctx, dailylimitdomain.IncrementRequest{
				TenantID: "tenant-a", Day: "2025-06-03", EventKey: "assistant_query", RawUnits: 1,
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	usage, err := f.svc.DailyUsage(ctx, "tenant-a", "2025-06-03")
	require.NoError(t, err)
	assert.Equal(t, 10.0, usage.Usage[0].RawUnits)
}

func TestIncrementValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Increment(ctx, dailylimitdomain.IncrementRequest{EventKey: "tool_invocation", RawUnits: 1}), dailylimitdomain.ErrInvalidTenant)
	assert.ErrorIs(t, f.svc.Increment(ctx, dailylimitdomain.IncrementRequest{TenantID: "tenant-a", RawUnits: 1}), dailylimitdomain.ErrInvalidEventKey)
	assert.ErrorIs(t, f.svc.Increment(ctx, dailylimitdomain.IncrementRequest{TenantID: "tenant-a", EventKey: "tool_invocation", RawUnits: math.Inf(1)}), ratecarddomain.ErrInvalidUnits)
	assert.ErrorIs(t, f.svc.Increment(ctx, dailylimitdomain.IncrementRequest{TenantID: "tenant-a", Day: "June 3", EventKey: "tool_invocation", RawUnits: 1}), period.ErrMalformedDate)
}
