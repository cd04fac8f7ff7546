package service

import (
	"context"
	"math"
	"strings"

	"github.com/smallbiznis/creditmeter/internal/clock"
	ratecarddomain "github.com/smallbiznis/creditmeter/internal/ratecard/domain"
	dbpkg "github.com/smallbiznis/creditmeter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  ratecarddomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  ratecarddomain.Repository
	clock clock.Clock
}

func New(p Params) ratecarddomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ratecard.service"),
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Lookup(ctx context.Context, eventKey string, activeOnly bool) (*ratecarddomain.MeteredEventType, error) {
	eventKey = strings.TrimSpace(eventKey)
	if eventKey == "" {
		return nil, nil
	}

	et, err := s.repo.FindByKey(ctx, dbpkg.Conn(ctx, s.db), eventKey)
	if err != nil {
		return nil, err
	}
	if et == nil || (activeOnly && !et.Active) {
		return nil, nil
	}
	return et, nil
}

func (s *Service) Resolve(ctx context.Context, eventKey string) (*ratecarddomain.MeteredEventType, error) {
	key := strings.TrimSpace(eventKey)
	et, err := s.repo.FindByKey(ctx, dbpkg.Conn(ctx, s.db), key)
	if err != nil {
		return nil, err
	}
	if et == nil {
		return nil, &ratecarddomain.UnknownEventTypeError{EventKey: key}
	}
	if !et.Active {
		return nil, &ratecarddomain.UnknownEventTypeError{EventKey: key, Inactive: true}
	}
	return et, nil
}

func (s *Service) Convert(et *ratecarddomain.MeteredEventType, rawUnits float64) (ratecarddomain.Conversion, error) {
	return ratecarddomain.Convert(et, rawUnits)
}

func (s *Service) GetMany(ctx context.Context, eventKeys []string) (map[string]ratecarddomain.MeteredEventType, error) {
	seen := make(map[string]struct{}, len(eventKeys))
	keys := make([]string, 0, len(eventKeys))
	for _, k := range eventKeys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	out := make(map[string]ratecarddomain.MeteredEventType, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	items, err := s.repo.FindByKeys(ctx, dbpkg.Conn(ctx, s.db), keys)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.EventKey] = item
	}
	return out, nil
}

func (s *Service) List(ctx context.Context) ([]ratecarddomain.MeteredEventType, error) {
	return s.repo.List(ctx, dbpkg.Conn(ctx, s.db))
}

func (s *Service) Create(ctx context.Context, req ratecarddomain.CreateRequest) (*ratecarddomain.MeteredEventType, error) {
	key := strings.TrimSpace(req.EventKey)
	if key == "" {
		return nil, ratecarddomain.ErrInvalidEventKey
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return nil, ratecarddomain.ErrInvalidName
	}

	unit := strings.TrimSpace(req.UnitName)
	if unit == "" {
		return nil, ratecarddomain.ErrInvalidUnit
	}

	if !validRate(req.CreditsPerUnit) || !validRate(req.ListPricePerCredit) {
		return nil, ratecarddomain.ErrInvalidRate
	}

	billable := true
	if req.Billable != nil {
		billable = *req.Billable
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now().UTC()
	et := &ratecarddomain.MeteredEventType{
		EventKey:           key,
		DisplayName:        name,
		Description:        strings.TrimSpace(req.Description),
		UnitName:           unit,
		CreditsPerUnit:     req.CreditsPerUnit,
		ListPricePerCredit: req.ListPricePerCredit,
		Billable:           billable,
		Active:             active,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		existing, err := s.repo.FindByKey(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return ratecarddomain.ErrEventTypeExists
		}
		if err := s.repo.Insert(ctx, tx, et); err != nil {
			if dbpkg.IsDuplicateKeyErr(err) {
				return ratecarddomain.ErrEventTypeExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("metered event type created",
		zap.String("event_key", key),
		zap.Float64("credits_per_unit", et.CreditsPerUnit),
	)
	return et, nil
}

// Update changes only the supplied fields. Rates apply to usage recorded after
// the change; existing ledger rows keep the credits they were written with.
func (s *Service) Update(ctx context.Context, req ratecarddomain.UpdateRequest) (*ratecarddomain.MeteredEventType, error) {
	key := strings.TrimSpace(req.EventKey)
	if key == "" {
		return nil, ratecarddomain.ErrInvalidEventKey
	}

	var updated *ratecarddomain.MeteredEventType
	err := dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		item, err := s.repo.FindByKey(ctx, tx, key)
		if err != nil {
			return err
		}
		if item == nil {
			return &ratecarddomain.UnknownEventTypeError{EventKey: key}
		}

		if req.DisplayName != nil {
			name := strings.TrimSpace(*req.DisplayName)
			if name == "" {
				return ratecarddomain.ErrInvalidName
			}
			item.DisplayName = name
		}
		if req.Description != nil {
			item.Description = strings.TrimSpace(*req.Description)
		}
		if req.UnitName != nil {
			unit := strings.TrimSpace(*req.UnitName)
			if unit == "" {
				return ratecarddomain.ErrInvalidUnit
			}
			item.UnitName = unit
		}
		if req.CreditsPerUnit != nil {
			if !validRate(*req.CreditsPerUnit) {
				return ratecarddomain.ErrInvalidRate
			}
			item.CreditsPerUnit = *req.CreditsPerUnit
		}
		if req.ListPricePerCredit != nil {
			if !validRate(*req.ListPricePerCredit) {
				return ratecarddomain.ErrInvalidRate
			}
			item.ListPricePerCredit = *req.ListPricePerCredit
		}
		if req.Billable != nil {
			item.Billable = *req.Billable
		}
		if req.Active != nil {
			item.Active = *req.Active
		}

		item.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.Update(ctx, tx, item); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func validRate(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
