package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditmeter/internal/clock"
	obslogger "github.com/smallbiznis/creditmeter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditmeter/internal/observability/metrics"
	"github.com/smallbiznis/creditmeter/internal/period"
	ratecarddomain "github.com/smallbiznis/creditmeter/internal/ratecard/domain"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	dbpkg "github.com/smallbiznis/creditmeter/pkg/db"
	"github.com/smallbiznis/creditmeter/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     usagedomain.Repository
	RateCard ratecarddomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	repo     usagedomain.Repository
	rateCard ratecarddomain.Service
	metrics  *obsmetrics.Metrics
}

func New(p Params) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		rateCard: p.RateCard,
		metrics:  p.Metrics,
	}
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.RecordResult, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, usagedomain.ErrInvalidTenant
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, usagedomain.ErrInvalidUser
	}
	eventKey := strings.TrimSpace(req.EventKey)
	if eventKey == "" {
		return nil, usagedomain.ErrInvalidEventKey
	}
	if err := ratecarddomain.ValidateUnits(req.RawUnits); err != nil {
		return nil, err
	}

	requestID := correlation.Resolve(ctx, req.CorrelationID)

	var result *usagedomain.RecordResult
	err := dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		et, err := s.rateCard.Resolve(ctx, eventKey)
		if err != nil {
			return err
		}
		conv, err := s.rateCard.Convert(et, req.RawUnits)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		periodStart := period.StartOf(now)

		event := &usagedomain.UsageEvent{
			ID:               s.genID.Generate(),
			TenantID:         tenantID,
			UserID:           userID,
			ActivityType:     et.EventKey,
			Units:            conv.RawUnits,
			Credits:          conv.Credits,
			ListCostEstimate: conv.Cost,
			PeriodStart:      periodStart,
			RequestID:        requestID,
			ToolName:         strings.TrimSpace(req.ToolName),
			CreatedAt:        now,
		}
		if err := s.repo.InsertEvent(ctx, tx, event); err != nil {
			return err
		}

		if err := s.accumulate(ctx, tx, usagedomain.Totals{
			TenantID:         tenantID,
			PeriodStart:      periodStart,
			EventKey:         et.EventKey,
			RawUnits:         conv.RawUnits,
			Credits:          conv.Credits,
			ListCostEstimate: conv.Cost,
		}, now); err != nil {
			return err
		}

		result = &usagedomain.RecordResult{
			EventID:     event.ID.String(),
			EventKey:    et.EventKey,
			RawUnits:    conv.RawUnits,
			Credits:     conv.Credits,
			Cost:        conv.Cost,
			PeriodStart: periodStart,
			RequestID:   requestID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordUsage(ctx, result.EventKey, result.Credits)
	obslogger.WithContext(ctx, s.log).Debug("usage recorded",
		zap.String("tenant_id", tenantID),
		zap.String("event_key", result.EventKey),
		zap.Float64("raw_units", result.RawUnits),
		zap.Float64("credits", result.Credits),
		zap.String("request_id", requestID),
	)
	return result, nil
}

// accumulate adds delta to the rollup row under an exclusive row lock,
// creating the row with zero sums first when it does not exist.
func (s *Service) accumulate(ctx context.Context, tx *gorm.DB, delta usagedomain.Totals, now time.Time) error {
	if err := s.repo.EnsureRollup(ctx, tx, &usagedomain.UsageRollupPeriod{
		TenantID:    delta.TenantID,
		PeriodStart: delta.PeriodStart,
		EventKey:    delta.EventKey,
		UpdatedAt:   now,
	}); err != nil {
		return err
	}

	rollup, err := s.repo.LockRollup(ctx, tx, delta.TenantID, delta.PeriodStart, delta.EventKey)
	if err != nil {
		return err
	}
	if rollup == nil {
		return usagedomain.ErrRollupNotFound
	}

	rollup.RawUnits += delta.RawUnits
	rollup.Credits += delta.Credits
	rollup.ListCostEstimate += delta.ListCostEstimate
	rollup.UpdatedAt = now
	return s.repo.SaveRollup(ctx, tx, rollup)
}

func (s *Service) PeriodUsage(ctx context.Context, tenantID, periodStart string) (*usagedomain.PeriodSummary, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, usagedomain.ErrInvalidTenant
	}
	start, err := period.Normalize(periodStart)
	if err != nil {
		return nil, err
	}

	conn := dbpkg.Conn(ctx, s.db)
	rollups, err := s.repo.ListRollups(ctx, conn, usagedomain.TotalsFilter{TenantID: tenantID, PeriodStart: start})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(rollups))
	for _, r := range rollups {
		keys = append(keys, r.EventKey)
	}
	meta, err := s.rateCard.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}

	summary := &usagedomain.PeriodSummary{
		TenantID:    tenantID,
		PeriodStart: start,
		Breakdown:   make([]usagedomain.EventBreakdown, 0, len(rollups)),
	}
	for _, r := range rollups {
		item := usagedomain.EventBreakdown{
			EventKey:    r.EventKey,
			DisplayName: r.EventKey,
			RawUnits:    r.RawUnits,
			Credits:     r.Credits,
			Cost:        r.ListCostEstimate,
		}
		if et, ok := meta[r.EventKey]; ok {
			item.DisplayName = et.DisplayName
			item.UnitName = et.UnitName
		}
		summary.TotalCredits += r.Credits
		summary.TotalCost += r.ListCostEstimate
		summary.Breakdown = append(summary.Breakdown, item)
	}

	sort.SliceStable(summary.Breakdown, func(i, j int) bool {
		if summary.Breakdown[i].Credits != summary.Breakdown[j].Credits {
			return summary.Breakdown[i].Credits > summary.Breakdown[j].Credits
		}
		return summary.Breakdown[i].EventKey < summary.Breakdown[j].EventKey
	})
	return summary, nil
}

func (s *Service) EventUsage(ctx context.Context, tenantID, periodStart, eventKey string) (usagedomain.EventTotals, error) {
	start, err := period.Normalize(periodStart)
	if err != nil {
		return usagedomain.EventTotals{}, err
	}
	rollup, err := s.repo.FindRollup(ctx, dbpkg.Conn(ctx, s.db), strings.TrimSpace(tenantID), start, strings.TrimSpace(eventKey))
	if err != nil {
		return usagedomain.EventTotals{}, err
	}
	if rollup == nil {
		return usagedomain.EventTotals{}, nil
	}
	return usagedomain.EventTotals{RawUnits: rollup.RawUnits, Credits: rollup.Credits}, nil
}

func (s *Service) TotalCreditsUsed(ctx context.Context, tenantID, periodStart string) (float64, error) {
	start, err := period.Normalize(periodStart)
	if err != nil {
		return 0, err
	}
	return s.repo.SumRollupCredits(ctx, dbpkg.Conn(ctx, s.db), strings.TrimSpace(tenantID), start)
}

func (s *Service) Ledger(ctx context.Context, req usagedomain.LedgerRequest) (*usagedomain.LedgerResponse, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, usagedomain.ErrInvalidTenant
	}

	start := period.Current(s.clock).Start
	if strings.TrimSpace(req.PeriodStart) != "" {
		normalized, err := period.Normalize(req.PeriodStart)
		if err != nil {
			return nil, err
		}
		start = normalized
	}

	items, err := s.repo.ListEvents(ctx, dbpkg.Conn(ctx, s.db), tenantID, start, clampLimit(req.Limit))
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []usagedomain.UsageEvent{}
	}
	return &usagedomain.LedgerResponse{PeriodStart: start, Items: items}, nil
}

func (s *Service) LedgerTotals(ctx context.Context, filter usagedomain.TotalsFilter) ([]usagedomain.Totals, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	return s.repo.SumEvents(ctx, dbpkg.Conn(ctx, s.db), filter)
}

func (s *Service) Rollups(ctx context.Context, filter usagedomain.TotalsFilter) ([]usagedomain.Totals, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListRollups(ctx, dbpkg.Conn(ctx, s.db), filter)
	if err != nil {
		return nil, err
	}
	out := make([]usagedomain.Totals, 0, len(rows))
	for _, r := range rows {
		out = append(out, usagedomain.Totals{
			TenantID:         r.TenantID,
			PeriodStart:      r.PeriodStart,
			EventKey:         r.EventKey,
			RawUnits:         r.RawUnits,
			Credits:          r.Credits,
			ListCostEstimate: r.ListCostEstimate,
		})
	}
	return out, nil
}

func (s *Service) VerifyRollup(ctx context.Context, tenantID, periodStart, eventKey string) (*usagedomain.Verification, error) {
	tenantID = strings.TrimSpace(tenantID)
	eventKey = strings.TrimSpace(eventKey)
	if tenantID == "" {
		return nil, usagedomain.ErrInvalidTenant
	}
	if eventKey == "" {
		return nil, usagedomain.ErrInvalidEventKey
	}
	start, err := period.Normalize(periodStart)
	if err != nil {
		return nil, err
	}

	var out *usagedomain.Verification
	err = dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		// a missing row is created empty so there is something to lock
		if err := s.repo.EnsureRollup(ctx, tx, &usagedomain.UsageRollupPeriod{
			TenantID:    tenantID,
			PeriodStart: start,
			EventKey:    eventKey,
			UpdatedAt:   s.clock.Now().UTC(),
		}); err != nil {
			return err
		}
		rollup, err := s.repo.LockRollup(ctx, tx, tenantID, start, eventKey)
		if err != nil {
			return err
		}
		if rollup == nil {
			return usagedomain.ErrRollupNotFound
		}

		ledger, err := s.ledgerTotal(ctx, tx, tenantID, start, eventKey)
		if err != nil {
			return err
		}
		out = &usagedomain.Verification{
			Rollup: usagedomain.Totals{
				TenantID:         rollup.TenantID,
				PeriodStart:      rollup.PeriodStart,
				EventKey:         rollup.EventKey,
				RawUnits:         rollup.RawUnits,
				Credits:          rollup.Credits,
				ListCostEstimate: rollup.ListCostEstimate,
			},
			Ledger: ledger,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ledgerTotal sums the ledger of one event key, returning zero totals when
// nothing was recorded.
func (s *Service) ledgerTotal(ctx context.Context, tx *gorm.DB, tenantID, periodStart, eventKey string) (usagedomain.Totals, error) {
	truth := usagedomain.Totals{TenantID: tenantID, PeriodStart: periodStart, EventKey: eventKey}
	sums, err := s.repo.SumEvents(ctx, tx, usagedomain.TotalsFilter{TenantID: tenantID, PeriodStart: periodStart})
	if err != nil {
		return truth, err
	}
	for _, sum := range sums {
		if sum.EventKey == eventKey {
			return sum, nil
		}
	}
	return truth, nil
}

func (s *Service) RepairRollup(ctx context.Context, tenantID, periodStart, eventKey string) (*usagedomain.Totals, error) {
	tenantID = strings.TrimSpace(tenantID)
	eventKey = strings.TrimSpace(eventKey)
	if tenantID == "" {
		return nil, usagedomain.ErrInvalidTenant
	}
	if eventKey == "" {
		return nil, usagedomain.ErrInvalidEventKey
	}
	start, err := period.Normalize(periodStart)
	if err != nil {
		return nil, err
	}

	var repaired *usagedomain.Totals
	err = dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		if err := s.repo.EnsureRollup(ctx, tx, &usagedomain.UsageRollupPeriod{
			TenantID:    tenantID,
			PeriodStart: start,
			EventKey:    eventKey,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}

		// lock first so no Record call can slip in between the sum and the write
		rollup, err := s.repo.LockRollup(ctx, tx, tenantID, start, eventKey)
		if err != nil {
			return err
		}
		if rollup == nil {
			return usagedomain.ErrRollupNotFound
		}

		truth, err := s.ledgerTotal(ctx, tx, tenantID, start, eventKey)
		if err != nil {
			return err
		}

		rollup.RawUnits = truth.RawUnits
		rollup.Credits = truth.Credits
		rollup.ListCostEstimate = truth.ListCostEstimate
		rollup.UpdatedAt = now
		if err := s.repo.SaveRollup(ctx, tx, rollup); err != nil {
			return err
		}
		repaired = &truth
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Warn("usage rollup repaired from ledger",
		zap.String("tenant_id", tenantID),
		zap.String("period_start", start),
		zap.String("event_key", eventKey),
		zap.Float64("raw_units", repaired.RawUnits),
		zap.Float64("credits", repaired.Credits),
	)
	return repaired, nil
}

func normalizeFilter(filter usagedomain.TotalsFilter) (usagedomain.TotalsFilter, error) {
	start, err := period.Normalize(filter.PeriodStart)
	if err != nil {
		return filter, err
	}
	filter.PeriodStart = start
	filter.TenantID = strings.TrimSpace(filter.TenantID)
	return filter, nil
}

func clampLimit(limit int) int {
	switch {
	case limit == 0:
		return usagedomain.DefaultLedgerLimit
	case limit < 1:
		return 1
	case limit > usagedomain.MaxLedgerLimit:
		return usagedomain.MaxLedgerLimit
	}
	return limit
}
