package service

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/smallbiznis/creditmeter/internal/clock"
	plandomain "github.com/smallbiznis/creditmeter/internal/plan/domain"
	ratecarddomain "github.com/smallbiznis/creditmeter/internal/ratecard/domain"
	dbpkg "github.com/smallbiznis/creditmeter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     plandomain.Repository
	RateCard ratecarddomain.Service
	Clock    clock.Clock `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     plandomain.Repository
	rateCard ratecarddomain.Service
	clock    clock.Clock
}

func New(p Params) plandomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("plan.service"),
		repo:     p.Repo,
		rateCard: p.RateCard,
		clock:    clk,
	}
}

func (s *Service) Get(ctx context.Context, planID string) (*plandomain.Plan, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, plandomain.ErrInvalidPlanID
	}
	p, err := s.repo.FindPlan(ctx, dbpkg.Conn(ctx, s.db), planID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	return s.repo.ListPlans(ctx, dbpkg.Conn(ctx, s.db))
}

func (s *Service) Create(ctx context.Context, req plandomain.CreateRequest) (*plandomain.Plan, error) {
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		return nil, plandomain.ErrInvalidPlanID
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = planID
	}
	if !validAmount(req.IncludedCredits) || !validAmount(req.OveragePricePerCredit) {
		return nil, plandomain.ErrInvalidAllowance
	}

	now := s.clock.Now().UTC()
	p := &plandomain.Plan{
		PlanID:                planID,
		Name:                  name,
		IncludedCredits:       req.IncludedCredits,
		OveragePricePerCredit: req.OveragePricePerCredit,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	err := dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		existing, err := s.repo.FindPlan(ctx, tx, planID)
		if err != nil {
			return err
		}
		if existing != nil {
			return plandomain.ErrPlanExists
		}
		if err := s.repo.InsertPlan(ctx, tx, p); err != nil {
			if dbpkg.IsDuplicateKeyErr(err) {
				return plandomain.ErrPlanExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("plan created", zap.String("plan_id", planID), zap.Float64("included_credits", p.IncludedCredits))
	return p, nil
}

func (s *Service) Update(ctx context.Context, req plandomain.UpdateRequest) (*plandomain.Plan, error) {
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		return nil, plandomain.ErrInvalidPlanID
	}

	var updated *plandomain.Plan
	err := dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		p, err := s.repo.FindPlan(ctx, tx, planID)
		if err != nil {
			return err
		}
		if p == nil {
			return plandomain.ErrPlanNotFound
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return plandomain.ErrInvalidName
			}
			p.Name = name
		}
		if req.IncludedCredits != nil {
			if !validAmount(*req.IncludedCredits) {
				return plandomain.ErrInvalidAllowance
			}
			p.IncludedCredits = *req.IncludedCredits
		}
		if req.OveragePricePerCredit != nil {
			if !validAmount(*req.OveragePricePerCredit) {
				return plandomain.ErrInvalidAllowance
			}
			p.OveragePricePerCredit = *req.OveragePricePerCredit
		}

		p.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.UpdatePlan(ctx, tx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Capabilities(ctx context.Context, planID string) ([]string, error) {
	return s.repo.ListPlanCapabilities(ctx, dbpkg.Conn(ctx, s.db), strings.TrimSpace(planID))
}

func (s *Service) HasCapability(ctx context.Context, planID, capabilityKey string) (bool, error) {
	return s.repo.HasPlanCapability(ctx, dbpkg.Conn(ctx, s.db), strings.TrimSpace(planID), strings.TrimSpace(capabilityKey))
}

// ReplaceCapabilities swaps the plan's capability set atomically. Every key
// must already exist in the capability table.
func (s *Service) ReplaceCapabilities(ctx context.Context, planID string, capabilityKeys []string) ([]string, error) {
	planID = strings.TrimSpace(planID)
	keys := dedupe(capabilityKeys)

	err := dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		p, err := s.repo.FindPlan(ctx, tx, planID)
		if err != nil {
			return err
		}
		if p == nil {
			return plandomain.ErrPlanNotFound
		}

		known, err := s.repo.FindCapabilities(ctx, tx, keys)
		if err != nil {
			return err
		}
		if len(known) != len(keys) {
			return plandomain.ErrUnknownCapability
		}
		return s.repo.ReplacePlanCapabilities(ctx, tx, planID, keys)
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Service) EnsureCapability(ctx context.Context, key, description string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return plandomain.ErrUnknownCapability
	}
	return s.repo.InsertCapabilityIfAbsent(ctx, dbpkg.Conn(ctx, s.db), &plandomain.Capability{
		CapabilityKey: key,
		Description:   strings.TrimSpace(description),
	})
}

func (s *Service) EventCaps(ctx context.Context, planID string) ([]plandomain.PlanEventCap, error) {
	return s.repo.ListEventCaps(ctx, dbpkg.Conn(ctx, s.db), strings.TrimSpace(planID))
}

func (s *Service) EventCap(ctx context.Context, planID, eventKey, period string) (*plandomain.PlanEventCap, error) {
	period = strings.TrimSpace(period)
	if period == "" {
		period = plandomain.PeriodMonthly
	}
	return s.repo.FindEventCap(ctx, dbpkg.Conn(ctx, s.db), strings.TrimSpace(planID), strings.TrimSpace(eventKey), period)
}

// ReplaceEventCaps swaps the plan's caps atomically. Event keys must exist in
// the rate card; only the monthly period is supported.
func (s *Service) ReplaceEventCaps(ctx context.Context, planID string, caps []plandomain.EventCapInput) ([]plandomain.PlanEventCap, error) {
	planID = strings.TrimSpace(planID)

	rows := make([]plandomain.PlanEventCap, 0, len(caps))
	seen := make(map[string]struct{}, len(caps))
	keys := make([]string, 0, len(caps))
	for _, c := range caps {
		key := strings.TrimSpace(c.EventKey)
		if key == "" || !validAmount(c.CapRawUnits) {
			return nil, plandomain.ErrInvalidCap
		}
		period := strings.TrimSpace(c.Period)
		if period == "" {
			period = plandomain.PeriodMonthly
		}
		if period != plandomain.PeriodMonthly {
			return nil, plandomain.ErrInvalidPeriod
		}
		if _, ok := seen[key]; ok {
			return nil, plandomain.ErrInvalidCap
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
		rows = append(rows, plandomain.PlanEventCap{
			PlanID:      planID,
			EventKey:    key,
			Period:      period,
			CapRawUnits: c.CapRawUnits,
		})
	}

	err := dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		p, err := s.repo.FindPlan(ctx, tx, planID)
		if err != nil {
			return err
		}
		if p == nil {
			return plandomain.ErrPlanNotFound
		}

		known, err := s.rateCard.GetMany(ctx, keys)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if _, ok := known[key]; !ok {
				return &ratecarddomain.UnknownEventTypeError{EventKey: key}
			}
		}
		return s.repo.ReplaceEventCaps(ctx, tx, planID, rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
