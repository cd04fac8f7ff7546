package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/creditmeter/internal/clock"
	ratecarddomain "github.com/smallbiznis/creditmeter/internal/ratecard/domain"
	ratecardrepository "github.com/smallbiznis/creditmeter/internal/ratecard/repository"
	ratecardservice "github.com/smallbiznis/creditmeter/internal/ratecard/service"
	"github.com/smallbiznis/creditmeter/internal/testutil"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"github.com/smallbiznis/creditmeter/internal/usage/repository"
	"github.com/smallbiznis/creditmeter/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	rateCard ratecarddomain.Service
	svc      usagedomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.SeedDefaults(t, db)

	log := zap.NewNop()
	clk := testutil.Clock(2025, time.December, 15, 10)
	rateCard := ratecardservice.New(ratecardservice.Params{DB: db, Log: log, Repo: ratecardrepository.Provide()})
	svc := New(Params{
		DB:       db,
		Log:      log,
		GenID:    testutil.Node(t),
		Clock:    clk,
		Repo:     repository.Provide(),
		RateCard: rateCard,
	})
	return &fixture{db: db, clock: clk, rateCard: rateCard, svc: svc}
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Table(table).Count(&n).Error)
	return n
}

func TestRecordWritesLedgerAndRollup(t *testing.T) {
	f := newFixture(t)
	ctx := correlation.ContextWithCorrelationID(context.Background(), "req-ctx")

	res, err := f.svc.Record(ctx, usagedomain.RecordRequest{
		TenantID: "tenant-a",
		UserID:   "user-1",
		EventKey: "tool_invocation",
		RawUnits: 3,
		ToolName: "echo",
	})
	require.NoError(t, err)
	assert.Equal(t, "tool_invocation", res.EventKey)
	assert.InDelta(t, 6.0, res.Credits, 1e-9)
	assert.InDelta(t, 0.12, res.Cost, 1e-9)
	assert.Equal(t, "2025-12-01", res.PeriodStart)
	assert.Equal(t, "req-ctx", res.RequestID)
	assert.NotEmpty(t, res.EventID)

	totals, err := f.svc.EventUsage(ctx, "tenant-a", "2025-12-01", "tool_invocation")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, totals.RawUnits, 1e-9)
	assert.InDelta(t, 6.0, totals.Credits, 1e-9)

	ledger, err := f.svc.Ledger(ctx, usagedomain.LedgerRequest{TenantID: "tenant-a"})
	require.NoError(t, err)
	require.Len(t, ledger.Items, 1)
	assert.Equal(t, "echo", ledger.Items[0].ToolName)
	assert.Equal(t, "user-1", ledger.Items[0].UserID)
}

func TestRecordExplicitCorrelationIDWins(t *testing.T) {
	f := newFixture(t)
	ctx := correlation.ContextWithCorrelationID(context.Background(), "req-ctx")

	res, err := f.svc.Record(ctx, usagedomain.RecordRequest{
		TenantID: "tenant-a", UserID: "user-1", EventKey: "assistant_query", RawUnits: 1, CorrelationID: "req-explicit",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-explicit", res.RequestID)
}

func TestRecordUnknownEventWritesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Record(context.Background(), usagedomain.RecordRequest{
		TenantID: "tenant-a", UserID: "user-1", EventKey: "teleport", RawUnits: 1,
	})
	assert.ErrorIs(t, err, ratecarddomain.ErrUnknownEventType)
	assert.Zero(t, countRows(t, f.db, "usage_events"))
	assert.Zero(t, countRows(t, f.db, "usage_rollup_period"))
}

func TestRecordRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  usagedomain.RecordRequest
		want error
	}{
		{"tenant", usagedomain.RecordRequest{UserID: "u", EventKey: "assistant_query", RawUnits: 1}, usagedomain.ErrInvalidTenant},
		{"user", usagedomain.RecordRequest{TenantID: "t", EventKey: "assistant_query", RawUnits: 1}, usagedomain.ErrInvalidUser},
		{"event", usagedomain.RecordRequest{TenantID: "t", UserID: "u", RawUnits: 1}, usagedomain.ErrInvalidEventKey},
		{"negative units", usagedomain.RecordRequest{TenantID: "t", UserID: "u", EventKey: "assistant_query", RawUnits: -1}, ratecarddomain.ErrInvalidUnits},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Record(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRateChangeDoesNotRewriteLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Record(ctx, usagedomain.RecordRequest{TenantID: "tenant-a", UserID: "u", EventKey: "assistant_query", RawUnits: 2})
	require.NoError(t, err)

	rate := 10.0
	_, err = f.rateCard.Update(ctx, ratecarddomain.UpdateRequest{EventKey: "assistant_query", CreditsPerUnit: &rate})
	require.NoError(t, err)

	_, err = f.svc.Record(ctx, usagedomain.RecordRequest{TenantID: "tenant-a", UserID: "u", EventKey: "assistant_query", RawUnits: 1})
	require.NoError(t, err)

	ledger, err := f.svc.Ledger(ctx, usagedomain.LedgerRequest{TenantID: "tenant-a", PeriodStart: "2025-12-01"})
	require.NoError(t, err)
	require.Len(t, ledger.Items, 2)

	var credits []float64
	for _, item := range ledger.Items {
		credits = append(credits, item.Credits)
	}
	assert.ElementsMatch(t, []float64{2, 10}, credits)

	used, err := f.svc.TotalCreditsUsed(ctx, "tenant-a", "2025-12-01")
	require.NoError(t, err)
	assert.InDelta(t, 12.0, used, 1e-9)
}

func TestConcurrentRecordsAllLand(t *testing.T) {
	f := newFixture(t)
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Record(context.Background(), usagedomain.RecordRequest{
				TenantID:      "tenant-a",
				UserID:        "user-1",
				EventKey:      "assistant_query",
				RawUnits:      1,
				CorrelationID: fmt.Sprintf("req-%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	totals, err := f.svc.EventUsage(context.Background(), "tenant-a", "2025-12-01", "assistant_query")
	require.NoError(t, err)
	assert.InDelta(t, float64(n), totals.RawUnits, 1e-9)
	assert.Equal(t, int64(n), countRows(t, f.db, "usage_events"))
}

func TestPeriodUsageBreakdownAndSeparation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record := func(tenant, key string, units float64) {
		t.Helper()
		_, err := f.svc.Record(ctx, usagedomain.RecordRequest{TenantID: tenant, UserID: "u", EventKey: key, RawUnits: units})
		require.NoError(t, err)
	}
	record("tenant-a", "assistant_query", 3)
	record("tenant-a", "daily_brief_generated", 1)
	record("tenant-b", "assistant_query", 7)

	f.clock.Set(time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC))
	record("tenant-a", "assistant_query", 4)

	summary, err := f.svc.PeriodUsage(ctx, "tenant-a", "2025-12-01")
	require.NoError(t, err)
	assert.InDelta(t, 8.0, summary.TotalCredits, 1e-9)
	require.Len(t, summary.Breakdown, 2)
	assert.Equal(t, "daily_brief_generated", summary.Breakdown[0].EventKey)
	assert.Equal(t, "Daily brief", summary.Breakdown[0].DisplayName)
	assert.Equal(t, "brief", summary.Breakdown[0].UnitName)
	assert.Equal(t, "assistant_query", summary.Breakdown[1].EventKey)

	january, err := f.svc.PeriodUsage(ctx, "tenant-a", "2026-01-15")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01", january.PeriodStart)
	assert.InDelta(t, 4.0, january.TotalCredits, 1e-9)

	empty, err := f.svc.PeriodUsage(ctx, "tenant-c", "2025-12-01")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalCredits)
	assert.Empty(t, empty.Breakdown)

	none, err := f.svc.EventUsage(ctx, "tenant-c", "2025-12-01", "assistant_query")
	require.NoError(t, err)
	assert.Zero(t, none.RawUnits)
}

func TestLedgerLimitClamp(t *testing.T) {
	assert.Equal(t, usagedomain.DefaultLedgerLimit, clampLimit(0))
	assert.Equal(t, 1, clampLimit(-5))
	assert.Equal(t, 17, clampLimit(17))
	assert.Equal(t, usagedomain.MaxLedgerLimit, clampLimit(5000))

	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Record(ctx, usagedomain.RecordRequest{TenantID: "tenant-a", UserID: "u", EventKey: "assistant_query", RawUnits: 1})
		require.NoError(t, err)
	}
	ledger, err := f.svc.Ledger(ctx, usagedomain.LedgerRequest{TenantID: "tenant-a", Limit: -3})
	require.NoError(t, err)
	assert.Len(t, ledger.Items, 1)
	assert.Equal(t, "2025-12-01", ledger.PeriodStart)
}

func TestRepairRollupRestoresLedgerSums(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Record(ctx, usagedomain.RecordRequest{TenantID: "tenant-a", UserID: "u", EventKey: "tool_invocation", RawUnits: 4})
	require.NoError(t, err)

	require.NoError(t, f.db.Exec(
		"UPDATE usage_rollup_period SET raw_units = 1, credits = 2 WHERE tenant_id = ? AND event_key = ?",
		"tenant-a", "tool_invocation",
	).Error)

	rollups, err := f.svc.Rollups(ctx, usagedomain.TotalsFilter{TenantID: "tenant-a", PeriodStart: "2025-12-01"})
	require.NoError(t, err)
	ledger, err := f.svc.LedgerTotals(ctx, usagedomain.TotalsFilter{TenantID: "tenant-a", PeriodStart: "2025-12-01"})
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	require.Len(t, ledger, 1)
	assert.NotEqual(t, ledger[0].RawUnits, rollups[0].RawUnits)

	repaired, err := f.svc.RepairRollup(ctx, "tenant-a", "2025-12-01", "tool_invocation")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, repaired.RawUnits, 1e-9)
	assert.InDelta(t, 8.0, repaired.Credits, 1e-9)

	totals, err := f.svc.EventUsage(ctx, "tenant-a", "2025-12-01", "tool_invocation")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, totals.RawUnits, 1e-9)
	assert.InDelta(t, 8.0, totals.Credits, 1e-9)
}

func TestVerifyRollupReadsBothSidesTogether(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Record(ctx, usagedomain.RecordRequest{TenantID: "tenant-a", UserID: "u", EventKey: "tool_invocation", RawUnits: 4})
	require.NoError(t, err)

	v, err := f.svc.VerifyRollup(ctx, "tenant-a", "2025-12-20", "tool_invocation")
	require.NoError(t, err)
	assert.Equal(t, "2025-12-01", v.Rollup.PeriodStart)
	assert.InDelta(t, 8.0, v.Rollup.Credits, 1e-9)
	assert.InDelta(t, 8.0, v.Ledger.Credits, 1e-9)

	require.NoError(t, f.db.Exec(
		"UPDATE usage_rollup_period SET credits = 1 WHERE tenant_id = ? AND event_key = ?",
		"tenant-a", "tool_invocation",
	).Error)
	v, err = f.svc.VerifyRollup(ctx, "tenant-a", "2025-12-01", "tool_invocation")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v.Rollup.Credits, 1e-9)
	assert.InDelta(t, 8.0, v.Ledger.Credits, 1e-9)

	// nothing recorded yet reads as zero on both sides
	v, err = f.svc.VerifyRollup(ctx, "tenant-b", "2025-12-01", "assistant_query")
	require.NoError(t, err)
	assert.Zero(t, v.Rollup.Credits)
	assert.Zero(t, v.Ledger.Credits)
	assert.Equal(t, "assistant_query", v.Ledger.EventKey)

	_, err = f.svc.VerifyRollup(ctx, "", "2025-12-01", "assistant_query")
	assert.ErrorIs(t, err, usagedomain.ErrInvalidTenant)
	_, err = f.svc.VerifyRollup(ctx, "tenant-a", "2025-12-01", " ")
	assert.ErrorIs(t, err, usagedomain.ErrInvalidEventKey)
}
