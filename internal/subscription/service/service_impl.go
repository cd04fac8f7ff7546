package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/period"
	plandomain "github.com/smallbiznis/creditmeter/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	dbpkg "github.com/smallbiznis/creditmeter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	PlanSvc plandomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    subscriptiondomain.Repository
	planSvc plandomain.Service
}

func New(p Params) subscriptiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		planSvc: p.PlanSvc,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.TenantSubscription, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, subscriptiondomain.ErrInvalidTenant
	}

	var created *subscriptiondomain.TenantSubscription
	err := dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		existing, err := s.repo.FindByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrSubscriptionExists
		}

		sub, err := s.newSubscription(ctx, tenantID, req.PlanID, req.Status, req.PeriodStart)
		if err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			if dbpkg.IsDuplicateKeyErr(err) {
				return subscriptiondomain.ErrSubscriptionExists
			}
			return err
		}
		created = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("tenant_id", created.TenantID),
		zap.String("plan_id", created.PlanID),
		zap.String("period_start", created.PeriodStart),
	)
	return created, nil
}

func (s *Service) Update(ctx context.Context, req subscriptiondomain.UpdateRequest) (*subscriptiondomain.TenantSubscription, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, subscriptiondomain.ErrInvalidTenant
	}

	var updated *subscriptiondomain.TenantSubscription
	err := dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		sub, err := s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		insert := sub == nil
		if insert {
			// blank fields take the same defaults as Create
			sub, err = s.newSubscription(ctx, tenantID, stringValue(req.PlanID), statusValue(req.Status), stringValue(req.PeriodStart))
			if err != nil {
				return err
			}
		} else if err := s.apply(ctx, sub, req); err != nil {
			return err
		}

		sub.UpdatedAt = s.clock.Now().UTC()
		if insert {
			err = s.repo.Insert(ctx, tx, sub)
			if dbpkg.IsDuplicateKeyErr(err) {
				// another Update or Create inserted the row after our read
				return subscriptiondomain.ErrSubscriptionExists
			}
		} else {
			err = s.repo.Update(ctx, tx, sub)
		}
		if err != nil {
			return err
		}
		updated = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription updated",
		zap.String("tenant_id", updated.TenantID),
		zap.String("plan_id", updated.PlanID),
		zap.String("status", string(updated.Status)),
		zap.String("period_start", updated.PeriodStart),
	)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, tenantID string) (*subscriptiondomain.TenantSubscription, error) {
	return s.find(ctx, tenantID, false)
}

func (s *Service) Lock(ctx context.Context, tenantID string) (*subscriptiondomain.TenantSubscription, error) {
	if _, ok := dbpkg.TxFromContext(ctx); !ok {
		return nil, subscriptiondomain.ErrLockRequiresTx
	}
	return s.find(ctx, tenantID, true)
}

func (s *Service) List(ctx context.Context, planID string) ([]subscriptiondomain.TenantSubscription, error) {
	return s.repo.List(ctx, dbpkg.Conn(ctx, s.db), strings.TrimSpace(planID))
}

func (s *Service) find(ctx context.Context, tenantID string, forUpdate bool) (*subscriptiondomain.TenantSubscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, subscriptiondomain.ErrInvalidTenant
	}

	conn := dbpkg.Conn(ctx, s.db)
	var (
		sub *subscriptiondomain.TenantSubscription
		err error
	)
	if forUpdate {
		sub, err = s.repo.FindByTenantForUpdate(ctx, conn, tenantID)
	} else {
		sub, err = s.repo.FindByTenant(ctx, conn, tenantID)
	}
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, &subscriptiondomain.SubscriptionNotFoundError{TenantID: tenantID}
	}
	return sub, nil
}

// apply copies the fields set on req onto an existing subscription.
func (s *Service) apply(ctx context.Context, sub *subscriptiondomain.TenantSubscription, req subscriptiondomain.UpdateRequest) error {
	if req.PlanID != nil {
		planID := strings.TrimSpace(*req.PlanID)
		if _, err := s.planSvc.Get(ctx, planID); err != nil {
			return err
		}
		sub.PlanID = planID
	}
	if req.Status != nil {
		if !subscriptiondomain.ValidStatus(*req.Status) {
			return subscriptiondomain.ErrInvalidStatus
		}
		sub.Status = *req.Status
	}
	if req.PeriodStart != nil {
		start, err := period.Normalize(*req.PeriodStart)
		if err != nil {
			return err
		}
		if start != sub.PeriodStart {
			end, err := period.End(start)
			if err != nil {
				return err
			}
			sub.PeriodStart = start
			sub.PeriodEnd = end
		}
	}
	return nil
}

func (s *Service) newSubscription(ctx context.Context, tenantID, planID string, status subscriptiondomain.SubscriptionStatus, periodStart string) (*subscriptiondomain.TenantSubscription, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		planID = subscriptiondomain.DefaultPlanID
	}
	if _, err := s.planSvc.Get(ctx, planID); err != nil {
		return nil, err
	}

	if status == "" {
		status = subscriptiondomain.SubscriptionStatusActive
	}
	if !subscriptiondomain.ValidStatus(status) {
		return nil, subscriptiondomain.ErrInvalidStatus
	}

	now := s.clock.Now().UTC()
	window := period.WindowOf(now)
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

	return &subscriptiondomain.TenantSubscription{
		TenantID:    tenantID,
		PlanID:      planID,
		Status:      status,
		PeriodStart: window.Start,
		PeriodEnd:   window.End,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func statusValue(v *subscriptiondomain.SubscriptionStatus) subscriptiondomain.SubscriptionStatus {
	if v == nil {
		return ""
	}
	return *v
}
