package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/creditmeter/internal/config"
	ratecardrepository "github.com/smallbiznis/creditmeter/internal/ratecard/repository"
	ratecardservice "github.com/smallbiznis/creditmeter/internal/ratecard/service"
	"github.com/smallbiznis/creditmeter/internal/testutil"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	usagerepository "github.com/smallbiznis/creditmeter/internal/usage/repository"
	usageservice "github.com/smallbiznis/creditmeter/internal/usage/service"
	"github.com/smallbiznis/creditmeter/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubLock struct {
	err      error
	acquired []string
	released int
}

func (l *stubLock) Acquire(_ context.Context, periodStart string, _ time.Duration) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, periodStart)
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

type fixture struct {
	db    *gorm.DB
	usage usagedomain.Service
	rec   *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.SeedDefaults(t, db)

	log := zap.NewNop()
	rateCard := ratecardservice.New(ratecardservice.Params{DB: db, Log: log, Repo: ratecardrepository.Provide()})
	usage := usageservice.New(usageservice.Params{
		DB:       db,
		Log:      log,
		GenID:    testutil.Node(t),
		Clock:    testutil.Clock(2025, time.December, 15, 10),
		Repo:     usagerepository.Provide(),
		RateCard: rateCard,
	})
	metrics, err := telemetry.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	rec := New(Params{Cfg: config.Config{}, Log: log, Usage: usage, Metrics: metrics})
	return &fixture{db: db, usage: usage, rec: rec}
}

func (f *fixture) record(t *testing.T, tenant, event string, units float64) {
	t.Helper()
	_, err := f.usage.Record(context.Background(), usagedomain.RecordRequest{
		TenantID: tenant,
		UserID:   "user-1",
		EventKey: event,
		RawUnits: units,
	})
	require.NoError(t, err)
}

func (f *fixture) corrupt(t *testing.T, tenant, event string, credits float64) {
	t.Helper()
	require.NoError(t, f.db.Exec(
		`UPDATE usage_rollup_period SET credits = ? WHERE tenant_id = ? AND period_start = ? AND event_key = ?`,
		credits, tenant, "2025-12-01", event,
	).Error)
}

func TestRunCleanPeriod(t *testing.T) {
	f := newFixture(t)
	f.record(t, "tenant-a", "tool_invocation", 2)
	f.record(t, "tenant-b", "assistant_query", 5)

	report, err := f.rec.Run(context.Background(), "2025-12-01", false)
	require.NoError(t, err)
	assert.Equal(t, StatusClean, report.Status)
	assert.Equal(t, 2, report.Checked)
	assert.Empty(t, report.Drifts)
}

func TestRunReportsDriftWithoutRepair(t *testing.T) {
	f := newFixture(t)
	f.record(t, "tenant-a", "tool_invocation", 2)
	f.record(t, "tenant-b", "assistant_query", 5)
	f.corrupt(t, "tenant-a", "tool_invocation", 99)

	report, err := f.rec.Run(context.Background(), "2025-12-17", false)
	require.NoError(t, err)
	assert.Equal(t, "2025-12-01", report.PeriodStart)
	assert.Equal(t, StatusDrifted, report.Status)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, "tenant-a", report.Drifts[0].TenantID)
	assert.InDelta(t, 99.0, report.Drifts[0].Rollup.Credits, 1e-9)
	assert.InDelta(t, 4.0, report.Drifts[0].Ledger.Credits, 1e-9)
	assert.False(t, report.Drifts[0].Repaired)

	totals, err := f.usage.EventUsage(context.Background(), "tenant-a", "2025-12-01", "tool_invocation")
	require.NoError(t, err)
	assert.InDelta(t, 99.0, totals.Credits, 1e-9)
}

func TestRunRepairsDrift(t *testing.T) {
	f := newFixture(t)
	f.record(t, "tenant-a", "tool_invocation", 2)
	f.record(t, "tenant-a", "tool_invocation", 1)
	f.corrupt(t, "tenant-a", "tool_invocation", 0)

	report, err := f.rec.Run(context.Background(), "2025-12-01", true)
	require.NoError(t, err)
	assert.Equal(t, StatusRepaired, report.Status)
	require.Len(t, report.Drifts, 1)
	assert.True(t, report.Drifts[0].Repaired)

	totals, err := f.usage.EventUsage(context.Background(), "tenant-a", "2025-12-01", "tool_invocation")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, totals.RawUnits, 1e-9)
	assert.InDelta(t, 6.0, totals.Credits, 1e-9)

	again, err := f.rec.Run(context.Background(), "2025-12-01", false)
	require.NoError(t, err)
	assert.Equal(t, StatusClean, again.Status)
}

func TestRunTakesAndReleasesPeriodLock(t *testing.T) {
	f := newFixture(t)
	lock := &stubLock{}
	f.rec.lock = lock

	_, err := f.rec.Run(context.Background(), "2025-12-01", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-12-01"}, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	f.rec.lock = &stubLock{err: ErrLockHeld}

	report, err := f.rec.Run(context.Background(), "2025-12-01", true)
	require.ErrorIs(t, err, ErrLockHeld)
	assert.Equal(t, StatusSkipped, report.Status)
}

func TestRunRejectsMalformedPeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Run(context.Background(), "12/2025", false)
	require.Error(t, err)
}

func TestNewRedisLockWithoutClient(t *testing.T) {
	assert.Nil(t, NewRedisLock(nil))

	rec := New(Params{Log: zap.NewNop(), Lock: NewRedisLock(nil)})
	assert.Nil(t, rec.lock)
	assert.Equal(t, defaultTTL, rec.ttl)
}

func TestRunForeverStopsWithContext(t *testing.T) {
	f := newFixture(t)
	lock := &stubLock{}
	f.rec.lock = lock

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.rec.RunForever(ctx, testutil.Clock(2026, time.January, 20, 8), time.Hour, false)
	assert.Equal(t, []string{"2026-01-01"}, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

// racingUsage records one more event after the rollups were read and before
// the ledger is summed.
type racingUsage struct {
	usagedomain.Service
	race func()
}

func (u *racingUsage) LedgerTotals(ctx context.Context, filter usagedomain.TotalsFilter) ([]usagedomain.Totals, error) {
	if u.race != nil {
		u.race()
		u.race = nil
	}
	return u.Service.LedgerTotals(ctx, filter)
}

func TestRunIgnoresRecordLandingBetweenReads(t *testing.T) {
	f := newFixture(t)
	f.record(t, "tenant-a", "tool_invocation", 2)

	f.rec.usage = &racingUsage{
		Service: f.usage,
		race: func() {
			f.record(t, "tenant-a", "tool_invocation", 1)
			f.record(t, "tenant-b", "assistant_query", 4)
		},
	}

	report, err := f.rec.Run(context.Background(), "2025-12-01", false)
	require.NoError(t, err)
	assert.Equal(t, StatusClean, report.Status)
	assert.Empty(t, report.Drifts)
	assert.Equal(t, 2, report.Checked)
}

func TestRunReportsDriftConfirmedUnderLock(t *testing.T) {
	f := newFixture(t)
	f.record(t, "tenant-a", "tool_invocation", 2)
	f.corrupt(t, "tenant-a", "tool_invocation", 1)

	f.rec.usage = &racingUsage{
		Service: f.usage,
		race:    func() { f.record(t, "tenant-a", "tool_invocation", 1) },
	}

	report, err := f.rec.Run(context.Background(), "2025-12-01", false)
	require.NoError(t, err)
	assert.Equal(t, StatusDrifted, report.Status)
	require.Len(t, report.Drifts, 1)
	// both sides come from the locked reread
	assert.InDelta(t, 3.0, report.Drifts[0].Rollup.Credits, 1e-9)
	assert.InDelta(t, 6.0, report.Drifts[0].Ledger.Credits, 1e-9)
}
