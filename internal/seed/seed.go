package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	plandomain "github.com/smallbiznis/creditmeter/internal/plan/domain"
	ratecarddomain "github.com/smallbiznis/creditmeter/internal/ratecard/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Result counts the rows a seeding pass created. Existing rows are never
// modified, so a second pass over the same catalog reports zeros.
type Result struct {
	Events           int `json:"events"`
	Capabilities     int `json:"capabilities"`
	Plans            int `json:"plans"`
	PlanCapabilities int `json:"plan_capabilities"`
	EventCaps        int `json:"event_caps"`
}

func (r Result) Total() int {
	return r.Events + r.Capabilities + r.Plans + r.PlanCapabilities + r.EventCaps
}

// EnsureCatalog inserts whatever part of catalog is missing from the store in
// a single transaction. New rows are stamped with clk.
func EnsureCatalog(ctx context.Context, db *gorm.DB, clk clock.Clock, catalog config.Catalog) (Result, error) {
	if db == nil {
		return Result{}, errors.New("seed database handle is required")
	}
	if clk == nil {
		clk = clock.New()
	}
	if err := config.ValidateCatalog(catalog); err != nil {
		return Result{}, err
	}

	var res Result
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := clk.Now().UTC()

		for _, e := range catalog.Events {
			created, err := ensureEventTypeTx(ctx, tx, e, now)
			if err != nil {
				return err
			}
			if created {
				res.Events++
			}
		}

		for _, c := range catalog.Capabilities {
			n, err := insertIgnore(ctx, tx, &plandomain.Capability{
				CapabilityKey: strings.TrimSpace(c.Key),
				Description:   c.Description,
			})
			if err != nil {
				return err
			}
			res.Capabilities += n
		}

		for _, p := range catalog.Plans {
			created, err := ensurePlanTx(ctx, tx, p, now)
			if err != nil {
				return err
			}
			if created {
				res.Plans++
			}

			for _, key := range p.Capabilities {
				n, err := insertIgnore(ctx, tx, &plandomain.PlanCapability{
					PlanID:        p.ID,
					CapabilityKey: strings.TrimSpace(key),
				})
				if err != nil {
					return err
				}
				res.PlanCapabilities += n
			}

			for _, ec := range p.EventCaps {
				period := strings.TrimSpace(ec.Period)
				if period == "" {
					period = plandomain.PeriodMonthly
				}
				n, err := insertIgnore(ctx, tx, &plandomain.PlanEventCap{
					PlanID:      p.ID,
					EventKey:    strings.TrimSpace(ec.EventKey),
					Period:      period,
					CapRawUnits: ec.CapRawUnits,
				})
				if err != nil {
					return err
				}
				res.EventCaps += n
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func ensureEventTypeTx(ctx context.Context, tx *gorm.DB, def config.EventDef, now time.Time) (bool, error) {
	key := strings.TrimSpace(def.Key)
	var et ratecarddomain.MeteredEventType
	err := tx.WithContext(ctx).Where("event_key = ?", key).First(&et).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	displayName := strings.TrimSpace(def.DisplayName)
	if displayName == "" {
		displayName = key
	}
	unit := strings.TrimSpace(def.UnitName)
	if unit == "" {
		unit = "unit"
	}

	et = ratecarddomain.MeteredEventType{
		EventKey:           key,
		DisplayName:        displayName,
		Description:        def.Description,
		UnitName:           unit,
		CreditsPerUnit:     def.CreditsPerUnit,
		ListPricePerCredit: def.ListPricePerCredit,
		Billable:           def.Billable,
		Active:             def.Active,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	// Select("*") keeps false booleans and zero rates in the insert
	if err := tx.WithContext(ctx).Select("*").Create(&et).Error; err != nil {
		return false, err
	}
	return true, nil
}

func ensurePlanTx(ctx context.Context, tx *gorm.DB, def config.PlanDef, now time.Time) (bool, error) {
	var plan plandomain.Plan
	err := tx.WithContext(ctx).Where("plan_id = ?", def.ID).First(&plan).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	name := strings.TrimSpace(def.Name)
	if name == "" {
		name = def.ID
	}
	plan = plandomain.Plan{
		PlanID:                def.ID,
		Name:                  name,
		IncludedCredits:       def.IncludedCredits,
		OveragePricePerCredit: def.OveragePricePerCredit,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := tx.WithContext(ctx).Select("*").Create(&plan).Error; err != nil {
		return false, err
	}
	return true, nil
}

func insertIgnore(ctx context.Context, tx *gorm.DB, row any) (int, error) {
	result := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}
