package repository

import (
	"context"

	plandomain "github.com/smallbiznis/creditmeter/internal/plan/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, p *plandomain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (plan_id, name, included_credits, overage_price_per_credit, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.PlanID,
		p.Name,
		p.IncludedCredits,
		p.OveragePricePerCredit,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, p *plandomain.Plan) error {
	return db.WithContext(ctx).Exec(
		`UPDATE plans
		 SET name = ?, included_credits = ?, overage_price_per_credit = ?, updated_at = ?
		 WHERE plan_id = ?`,
		p.Name,
		p.IncludedCredits,
		p.OveragePricePerCredit,
		p.UpdatedAt,
		p.PlanID,
	).Error
}

func (r *repo) FindPlan(ctx context.Context, db *gorm.DB, planID string) (*plandomain.Plan, error) {
	var p plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT plan_id, name, included_credits, overage_price_per_credit, created_at, updated_at
		 FROM plans WHERE plan_id = ?`,
		planID,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.PlanID == "" {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) ListPlans(ctx context.Context, db *gorm.DB) ([]plandomain.Plan, error) {
	var plans []plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT plan_id, name, included_credits, overage_price_per_credit, created_at, updated_at
		 FROM plans ORDER BY included_credits ASC, plan_id ASC`,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) FindCapabilities(ctx context.Context, db *gorm.DB, keys []string) ([]plandomain.Capability, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var caps []plandomain.Capability
	err := db.WithContext(ctx).Raw(
		`SELECT capability_key, description FROM capabilities WHERE capability_key IN ?`,
		keys,
	).Scan(&caps).Error
	if err != nil {
		return nil, err
	}
	return caps, nil
}

func (r *repo) InsertCapabilityIfAbsent(ctx context.Context, db *gorm.DB, c *plandomain.Capability) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "capability_key"}},
			DoNothing: true,
		}).
		Create(c).Error
}

func (r *repo) ListPlanCapabilities(ctx context.Context, db *gorm.DB, planID string) ([]string, error) {
	var rows []plandomain.PlanCapability
	err := db.WithContext(ctx).Raw(
		`SELECT plan_id, capability_key FROM plan_capabilities WHERE plan_id = ? ORDER BY capability_key ASC`,
		planID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.CapabilityKey)
	}
	return keys, nil
}

func (r *repo) HasPlanCapability(ctx context.Context, db *gorm.DB, planID, capabilityKey string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM plan_capabilities WHERE plan_id = ? AND capability_key = ?`,
		planID,
		capabilityKey,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ReplacePlanCapabilities(ctx context.Context, db *gorm.DB, planID string, keys []string) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM plan_capabilities WHERE plan_id = ?`,
		planID,
	).Error; err != nil {
		return err
	}
	for _, key := range keys {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO plan_capabilities (plan_id, capability_key) VALUES (?, ?)`,
			planID,
			key,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ListEventCaps(ctx context.Context, db *gorm.DB, planID string) ([]plandomain.PlanEventCap, error) {
	var caps []plandomain.PlanEventCap
	err := db.WithContext(ctx).Raw(
		`SELECT plan_id, event_key, period, cap_raw_units
		 FROM plan_event_caps WHERE plan_id = ? ORDER BY event_key ASC`,
		planID,
	).Scan(&caps).Error
	if err != nil {
		return nil, err
	}
	return caps, nil
}

func (r *repo) FindEventCap(ctx context.Context, db *gorm.DB, planID, eventKey, period string) (*plandomain.PlanEventCap, error) {
	var c plandomain.PlanEventCap
	err := db.WithContext(ctx).Raw(
		`SELECT plan_id, event_key, period, cap_raw_units
		 FROM plan_event_caps WHERE plan_id = ? AND event_key = ? AND period = ?`,
		planID,
		eventKey,
		period,
	).Scan(&c).Error
	if err != nil {
		return nil, err
	}
	if c.PlanID == "" {
		return nil, nil
	}
	return &c, nil
}

func (r *repo) ReplaceEventCaps(ctx context.Context, db *gorm.DB, planID string, caps []plandomain.PlanEventCap) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM plan_event_caps WHERE plan_id = ?`,
		planID,
	).Error; err != nil {
		return err
	}
	for _, c := range caps {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO plan_event_caps (plan_id, event_key, period, cap_raw_units) VALUES (?, ?, ?, ?)`,
			planID,
			c.EventKey,
			c.Period,
			c.CapRawUnits,
		).Error; err != nil {
			return err
		}
	}
	return nil
}
