package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/period"
	plandomain "github.com/smallbiznis/creditmeter/internal/plan/domain"
	planrepository "github.com/smallbiznis/creditmeter/internal/plan/repository"
	planservice "github.com/smallbiznis/creditmeter/internal/plan/service"
	ratecardrepository "github.com/smallbiznis/creditmeter/internal/ratecard/repository"
	ratecardservice "github.com/smallbiznis/creditmeter/internal/ratecard/service"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"github.com/smallbiznis/creditmeter/internal/subscription/repository"
	"github.com/smallbiznis/creditmeter/internal/testutil"
	dbpkg "github.com/smallbiznis/creditmeter/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (subscriptiondomain.Service, *gorm.DB) {
	t.Helper()
	return newTestServiceWith(t, config.DefaultCatalog(), repository.Provide())
}

func newTestServiceWith(t *testing.T, catalog config.Catalog, repo subscriptiondomain.Repository) (subscriptiondomain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.SeedCatalog(t, db, catalog)

	log := zap.NewNop()
	rateCard := ratecardservice.New(ratecardservice.Params{DB: db, Log: log, Repo: ratecardrepository.Provide()})
	plans := planservice.New(planservice.Params{DB: db, Log: log, Repo: planrepository.Provide(), RateCard: rateCard})

	svc := New(Params{
		DB:      db,
		Log:     log,
		Clock:   testutil.Clock(2025, time.December, 15, 10),
		Repo:    repo,
		PlanSvc: plans,
	})
	return svc, db
}

func TestCreateDefaultsToStarterForCurrentMonth(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sub, err := svc.Create(ctx, subscriptiondomain.CreateRequest{TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.Equal(t, "starter", sub.PlanID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "2025-12-01", sub.PeriodStart)
	assert.Equal(t, "2026-01-01", sub.PeriodEnd)

	_, err = svc.Create(ctx, subscriptiondomain.CreateRequest{TenantID: "tenant-a", PlanID: "growth"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionExists)
}

func TestCreateRejectsUnknownPlan(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), subscriptiondomain.CreateRequest{TenantID: "tenant-a", PlanID: "platinum"})
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}

func TestCreateNormalizesExplicitPeriod(t *testing.T) {
	svc, _ := newTestService(t)

	sub, err := svc.Create(context.Background(), subscriptiondomain.CreateRequest{TenantID: "tenant-a", PeriodStart: "2024-02-17"})
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", sub.PeriodStart)
	assert.Equal(t, "2024-03-01", sub.PeriodEnd)

	_, err = svc.Create(context.Background(), subscriptiondomain.CreateRequest{TenantID: "tenant-b", PeriodStart: "17/02/2024"})
	assert.ErrorIs(t, err, period.ErrMalformedDate)
}

func TestUpdateUpsertsAndMutatesOnlySuppliedFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	suspended := subscriptiondomain.SubscriptionStatusSuspended
	sub, err := svc.Update(ctx, subscriptiondomain.UpdateRequest{TenantID: "tenant-a", Status: &suspended})
	require.NoError(t, err)
	assert.Equal(t, "starter", sub.PlanID)
	assert.Equal(t, suspended, sub.Status)
	assert.Equal(t, "2025-12-01", sub.PeriodStart)

	growth := "growth"
	start := "2026-01-01"
	sub, err = svc.Update(ctx, subscriptiondomain.UpdateRequest{TenantID: "tenant-a", PlanID: &growth, PeriodStart: &start})
	require.NoError(t, err)
	assert.Equal(t, "growth", sub.PlanID)
	assert.Equal(t, suspended, sub.Status)
	assert.Equal(t, "2026-01-01", sub.PeriodStart)
	assert.Equal(t, "2026-02-01", sub.PeriodEnd)

	got, err := svc.Get(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, sub.PlanID, got.PlanID)
	assert.Equal(t, sub.PeriodEnd, got.PeriodEnd)

	bogus := subscriptiondomain.SubscriptionStatus("paused")
	_, err = svc.Update(ctx, subscriptiondomain.UpdateRequest{TenantID: "tenant-a", Status: &bogus})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatus)
}

func TestGetMissingSubscription(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "nobody")
	var notFound *subscriptiondomain.SubscriptionNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "nobody", notFound.TenantID)
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestLockRequiresTransaction(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, subscriptiondomain.CreateRequest{TenantID: "tenant-a"})
	require.NoError(t, err)

	_, err = svc.Lock(ctx, "tenant-a")
	assert.ErrorIs(t, err, subscriptiondomain.ErrLockRequiresTx)

	err = dbpkg.RunInTx(ctx, db, func(ctx context.Context, _ *gorm.DB) error {
		sub, err := svc.Lock(ctx, "tenant-a")
		if err != nil {
			return err
		}
		assert.Equal(t, "tenant-a", sub.TenantID)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateInsertUsesRequestedPlanWithoutDefault(t *testing.T) {
	catalog := config.DefaultCatalog()
	plans := catalog.Plans[:0]
	for _, p := range catalog.Plans {
		if p.ID != subscriptiondomain.DefaultPlanID {
			plans = append(plans, p)
		}
	}
	catalog.Plans = plans
	svc, _ := newTestServiceWith(t, catalog, repository.Provide())
	ctx := context.Background()

	growth := "growth"
	sub, err := svc.Update(ctx, subscriptiondomain.UpdateRequest{TenantID: "tenant-a", PlanID: &growth})
	require.NoError(t, err)
	assert.Equal(t, "growth", sub.PlanID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "2025-12-01", sub.PeriodStart)

	// without a plan the missing default is still reported
	_, err = svc.Update(ctx, subscriptiondomain.UpdateRequest{TenantID: "tenant-b"})
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}

func TestUpdateInsertRejectsInvalidRequestedFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ghost := "ghost"
	_, err := svc.Update(ctx, subscriptiondomain.UpdateRequest{TenantID: "tenant-a", PlanID: &ghost})
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)

	status := subscriptiondomain.SubscriptionStatus("paused")
	_, err = svc.Update(ctx, subscriptiondomain.UpdateRequest{TenantID: "tenant-a", Status: &status})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatus)

	_, err = svc.Get(ctx, "tenant-a")
	var notFound *subscriptiondomain.SubscriptionNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

// staleRepo misses rows on the locking read, as when another transaction
// inserted the tenant after it.
type staleRepo struct {
	subscriptiondomain.Repository
}

func (staleRepo) FindByTenantForUpdate(context.Context, *gorm.DB, string) (*subscriptiondomain.TenantSubscription, error) {
	return nil, nil
}

func TestUpdateInsertRaceReportsExisting(t *testing.T) {
	svc, _ := newTestServiceWith(t, config.DefaultCatalog(), staleRepo{Repository: repository.Provide()})
	ctx := context.Background()

	_, err := svc.Create(ctx, subscriptiondomain.CreateRequest{TenantID: "tenant-a"})
	require.NoError(t, err)

	growth := "growth"
	_, err = svc.Update(ctx, subscriptiondomain.UpdateRequest{TenantID: "tenant-a", PlanID: &growth})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionExists)

	sub, err := svc.Get(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "starter", sub.PlanID)
}
