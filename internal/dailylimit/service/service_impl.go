package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/creditmeter/internal/authorization"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	dailylimitdomain "github.com/smallbiznis/creditmeter/internal/dailylimit/domain"
	obslogger "github.com/smallbiznis/creditmeter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditmeter/internal/observability/metrics"
	"github.com/smallbiznis/creditmeter/internal/period"
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
	Clock    clock.Clock
	Repo     dailylimitdomain.Repository
	RateCard ratecarddomain.Service
	Authz    authorization.Service
	Catalog  *config.CatalogHolder
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock    clock.Clock
	repo     dailylimitdomain.Repository
	rateCard ratecarddomain.Service
	authz    authorization.Service
	catalog  *config.CatalogHolder
	metrics  *obsmetrics.Metrics
}

func New(p Params) dailylimitdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("dailylimit.service"),

		clock:    p.Clock,
		repo:     p.Repo,
		rateCard: p.RateCard,
		authz:    p.Authz,
		catalog:  p.Catalog,
		metrics:  p.Metrics,
	}
}

func (s *Service) Limits(ctx context.Context, tenantID string) (*dailylimitdomain.Limits, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, dailylimitdomain.ErrInvalidTenant
	}

	limits := s.defaults()
	overrides, err := s.repo.ListLimits(ctx, dbpkg.Conn(ctx, s.db), tenantID)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		limits[o.EventKey] = o.DailyLimit
	}
	return &dailylimitdomain.Limits{TenantID: tenantID, Limits: limits}, nil
}

func (s *Service) UpdateLimits(ctx context.Context, req dailylimitdomain.UpdateRequest) (*dailylimitdomain.Limits, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, dailylimitdomain.ErrInvalidTenant
	}
	if err := s.authz.Authorize(ctx, tenantID, req.Role, authorization.ObjectLimits, authorization.ActionUpdate); err != nil {
		return nil, err
	}

	updates := make(map[string]float64, len(req.Limits))
	for key, limit := range req.Limits {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, dailylimitdomain.ErrInvalidEventKey
		}
		if math.IsNaN(limit) || math.IsInf(limit, 0) || limit < 0 {
			return nil, dailylimitdomain.ErrInvalidLimit
		}
		updates[key] = limit
	}

	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	err := dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		for _, key := range keys {
			et, err := s.rateCard.Lookup(ctx, key, false)
			if err != nil {
				return err
			}
			if et == nil {
				return &ratecarddomain.UnknownEventTypeError{EventKey: key}
			}
			if err := s.repo.UpsertLimit(ctx, tx, &dailylimitdomain.TenantDailyLimit{
				TenantID:   tenantID,
				EventKey:   key,
				DailyLimit: updates[key],
				CreatedAt:  now,
				UpdatedAt:  now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(keys) > 0 {
		obslogger.WithContext(ctx, s.log).Info("daily limits updated",
			zap.String("tenant_id", tenantID),
			zap.Strings("event_keys", keys),
		)
	}
	return s.Limits(ctx, tenantID)
}

func (s *Service) Check(ctx context.Context, tenantID, eventKey string, rawUnits float64) (*dailylimitdomain.Check, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, dailylimitdomain.ErrInvalidTenant
	}
	eventKey = strings.TrimSpace(eventKey)
	if eventKey == "" {
		return nil, dailylimitdomain.ErrInvalidEventKey
	}
	if err := ratecarddomain.ValidateUnits(rawUnits); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	day := period.Format(now)
	conn := dbpkg.Conn(ctx, s.db)

	limit, limited, err := s.limitFor(ctx, conn, tenantID, eventKey)
	if err != nil {
		return nil, err
	}
	rollup, err := s.repo.FindRollup(ctx, conn, tenantID, day, eventKey)
	if err != nil {
		return nil, err
	}
	var used float64
	if rollup != nil {
		used = rollup.RawUnits
	}

	check := &dailylimitdomain.Check{
		Day:      day,
		EventKey: eventKey,
		Used:     used,
		ResetAt:  nextMidnight(now),
	}
	if !limited {
		return check, nil
	}

	if used+rawUnits > limit {
		s.metrics.RecordQuotaDenied(ctx, eventKey, "daily_limit")
		obslogger.WithContext(ctx, s.log).Info("daily limit exceeded",
			zap.String("tenant_id", tenantID),
			zap.String("event_key", eventKey),
			zap.Float64("limit", limit),
			zap.Float64("used", used),
			zap.Float64("requested", rawUnits),
		)
		return nil, &dailylimitdomain.DailyLimitExceededError{
			TenantID:          tenantID,
			Day:               day,
			EventKey:          eventKey,
			Limit:             limit,
			Used:              used,
			RequestedRawUnits: rawUnits,
			ResetAt:           check.ResetAt,
		}
	}

	remaining := limit - used - rawUnits
	check.Limit = &limit
	check.Remaining = &remaining
	return check, nil
}

func (s *Service) Increment(ctx context.Context, req dailylimitdomain.IncrementRequest) error {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return dailylimitdomain.ErrInvalidTenant
	}
	eventKey := strings.TrimSpace(req.EventKey)
	if eventKey == "" {
		return dailylimitdomain.ErrInvalidEventKey
	}
	if err := ratecarddomain.ValidateUnits(req.RawUnits); err != nil {
		return err
	}
	day, err := s.dayOrToday(req.Day)
	if err != nil {
		return err
	}

	return dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		if err := s.repo.EnsureRollup(ctx, tx, &dailylimitdomain.UsageRollupDaily{
			TenantID:   tenantID,
			RollupDate: day,
			EventKey:   eventKey,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}

		rollup, err := s.repo.LockRollup(ctx, tx, tenantID, day, eventKey)
		if err != nil {
			return err
		}
		if rollup == nil {
			return dailylimitdomain.ErrRollupNotFound
		}

		rollup.RawUnits += req.RawUnits
		rollup.UpdatedAt = now
		return s.repo.SaveRollup(ctx, tx, rollup)
	})
}

func (s *Service) DailyUsage(ctx context.Context, tenantID, date string) (*dailylimitdomain.DailyUsage, error) {
	day, err := s.dayOrToday(date)
	if err != nil {
		return nil, err
	}
	limits, err := s.Limits(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	rollups, err := s.repo.ListRollups(ctx, dbpkg.Conn(ctx, s.db), limits.TenantID, day)
	if err != nil {
		return nil, err
	}

	used := make(map[string]float64, len(rollups))
	for _, r := range rollups {
		used[r.EventKey] = r.RawUnits
	}
	keys := make([]string, 0, len(limits.Limits)+len(used))
	for key := range limits.Limits {
		keys = append(keys, key)
	}
	for key := range used {
		if _, ok := limits.Limits[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &dailylimitdomain.DailyUsage{
		TenantID: limits.TenantID,
		Date:     day,
		Limits:   limits.Limits,
		Usage:    make([]dailylimitdomain.UsageItem, 0, len(keys)),
	}
	for _, key := range keys {
		item := dailylimitdomain.UsageItem{EventKey: key, RawUnits: used[key]}
		if limit, ok := limits.Limits[key]; ok {
			item.Limit = &limit
		}
		out.Usage = append(out.Usage, item)
	}
	return out, nil
}

// limitFor resolves the tenant override first, then the catalog default.
func (s *Service) limitFor(ctx context.Context, conn *gorm.DB, tenantID, eventKey string) (float64, bool, error) {
	override, err := s.repo.FindLimit(ctx, conn, tenantID, eventKey)
	if err != nil {
		return 0, false, err
	}
	if override != nil {
		return override.DailyLimit, true, nil
	}
	if s.catalog == nil {
		return 0, false, nil
	}
	limit, ok := s.catalog.Get().DailyLimit(eventKey)
	return limit, ok, nil
}

func (s *Service) defaults() map[string]float64 {
	limits := make(map[string]float64)
	if s.catalog == nil {
		return limits
	}
	for _, d := range s.catalog.Get().DailyLimits {
		limits[strings.TrimSpace(d.EventKey)] = d.Limit
	}
	return limits
}

func (s *Service) dayOrToday(date string) (string, error) {
	if strings.TrimSpace(date) == "" {
		return period.Format(s.clock.Now()), nil
	}
	t, err := period.Parse(date)
	if err != nil {
		return "", err
	}
	return period.Format(t), nil
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
