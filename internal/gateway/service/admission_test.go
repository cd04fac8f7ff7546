package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/smallbiznis/creditmeter/internal/authorization"
	dailylimitdomain "github.com/smallbiznis/creditmeter/internal/dailylimit/domain"
	gatewaydomain "github.com/smallbiznis/creditmeter/internal/gateway/domain"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/creditmeter/internal/subscription/repository"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	usagerepository "github.com/smallbiznis/creditmeter/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestInvokeToolDailyLimitExceeded(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "tenant-a", "starter")
	ctx := context.Background()

	_, err := f.limits.UpdateLimits(ctx, dailylimitdomain.UpdateRequest{
		TenantID: "tenant-a",
		Role:     authorization.RoleAdmin,
		Limits:   map[string]float64{"tool_invocation": 1},
	})
	require.NoError(t, err)

	_, err = f.svc.InvokeTool(ctx, invokeEcho("k1", "hi"))
	require.NoError(t, err)

	daily, err := f.limits.DailyUsage(ctx, "tenant-a", "")
	require.NoError(t, err)
	assert.Equal(t, "2025-12-15", daily.Date)
	var counted float64
	for _, item := range daily.Usage {
		if item.EventKey == "tool_invocation" {
			counted = item.RawUnits
		}
	}
	assert.Equal(t, 1.0, counted)

	_, err = f.svc.InvokeTool(ctx, invokeEcho("k2", "hi"))
	var exceeded *dailylimitdomain.DailyLimitExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, 1.0, exceeded.Used)
	assert.Equal(t, gatewaydomain.KindQuota, gatewaydomain.Classify(err))
	assert.Equal(t, "daily_limit_exceeded", gatewaydomain.Code(err))
	assert.Equal(t, http.StatusTooManyRequests, gatewaydomain.Classify(err).Status())
	assert.Equal(t, int64(1), f.count(t, "usage_events"))

	// replays are not counted again
	replay, err := f.svc.InvokeTool(ctx, invokeEcho("k1", "hi"))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	daily, err = f.limits.DailyUsage(ctx, "tenant-a", "")
	require.NoError(t, err)
	for _, item := range daily.Usage {
		if item.EventKey == "tool_invocation" {
			assert.Equal(t, 1.0, item.RawUnits)
		}
	}
}

// callLog records repository calls in order, marking the ones made on a
// transaction handle.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string, db *gorm.DB) {
	if db != nil && db.Statement != nil {
		if _, ok := db.Statement.ConnPool.(gorm.TxCommitter); ok {
			name += "@tx"
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type spySubscriptionRepo struct {
	subscriptiondomain.Repository
	log *callLog
}

func (r *spySubscriptionRepo) FindByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*subscriptiondomain.TenantSubscription, error) {
	r.log.add("subscription.find", db)
	return r.Repository.FindByTenant(ctx, db, tenantID)
}

func (r *spySubscriptionRepo) FindByTenantForUpdate(ctx context.Context, db *gorm.DB, tenantID string) (*subscriptiondomain.TenantSubscription, error) {
	r.log.add("subscription.lock", db)
	return r.Repository.FindByTenantForUpdate(ctx, db, tenantID)
}

type spyUsageRepo struct {
	usagedomain.Repository
	log *callLog
}

func (r *spyUsageRepo) SumRollupCredits(ctx context.Context, db *gorm.DB, tenantID, periodStart string) (float64, error) {
	r.log.add("usage.credits", db)
	return r.Repository.SumRollupCredits(ctx, db, tenantID, periodStart)
}

func (r *spyUsageRepo) InsertEvent(ctx context.Context, db *gorm.DB, event *usagedomain.UsageEvent) error {
	r.log.add("usage.insert", db)
	return r.Repository.InsertEvent(ctx, db, event)
}

func (r *spyUsageRepo) LockRollup(ctx context.Context, db *gorm.DB, tenantID, periodStart, eventKey string) (*usagedomain.UsageRollupPeriod, error) {
	r.log.add("usage.lock", db)
	return r.Repository.LockRollup(ctx, db, tenantID, periodStart, eventKey)
}

func (r *spyUsageRepo) SaveRollup(ctx context.Context, db *gorm.DB, rollup *usagedomain.UsageRollupPeriod) error {
	r.log.add("usage.save", db)
	return r.Repository.SaveRollup(ctx, db, rollup)
}

func TestExecuteLocksSubscriptionBeforeReadingQuota(t *testing.T) {
	calls := &callLog{}
	f := buildFixture(t,
		&spySubscriptionRepo{Repository: subscriptionrepository.Provide(), log: calls},
		&spyUsageRepo{Repository: usagerepository.Provide(), log: calls},
	)
	f.subscribe(t, "tenant-a", "starter")
	calls.reset()

	_, err := f.svc.InvokeTool(context.Background(), invokeEcho("k1", "hi"))
	require.NoError(t, err)

	got := calls.snapshot()
	require.NotEmpty(t, got)
	assert.Equal(t, "subscription.lock@tx", got[0])
	for _, call := range got {
		assert.True(t, strings.HasSuffix(call, "@tx"), "%s ran outside the admission transaction", call)
	}

	position := func(name string) int {
		for i, call := range got {
			if call == name+"@tx" {
				return i
			}
		}
		t.Fatalf("%s not called; got %v", name, got)
		return -1
	}
	lock := position("subscription.lock")
	credits := position("usage.credits")
	insert := position("usage.insert")
	rollupLock := position("usage.lock")
	save := position("usage.save")
	assert.Less(t, lock, credits)
	assert.Less(t, credits, insert)
	assert.Less(t, insert, rollupLock)
	assert.Less(t, rollupLock, save)
}

func TestLockOutsideTransactionIsRejected(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "tenant-a", "starter")

	_, err := f.subs.Lock(context.Background(), "tenant-a")
	assert.ErrorIs(t, err, subscriptiondomain.ErrLockRequiresTx)
}
