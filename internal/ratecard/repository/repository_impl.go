package repository

import (
	"context"

	ratecarddomain "github.com/smallbiznis/creditmeter/internal/ratecard/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ratecarddomain.Repository {
	return &repo{}
}

const selectColumns = `event_key, display_name, description, unit_name, credits_per_unit,
	list_price_per_credit, billable, active, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, et *ratecarddomain.MeteredEventType) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO metered_event_types (`+selectColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		et.EventKey,
		et.DisplayName,
		et.Description,
		et.UnitName,
		et.CreditsPerUnit,
		et.ListPricePerCredit,
		et.Billable,
		et.Active,
		et.CreatedAt,
		et.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, et *ratecarddomain.MeteredEventType) error {
	return db.WithContext(ctx).Exec(
		`UPDATE metered_event_types
		 SET display_name = ?, description = ?, unit_name = ?, credits_per_unit = ?,
		     list_price_per_credit = ?, billable = ?, active = ?, updated_at = ?
		 WHERE event_key = ?`,
		et.DisplayName,
		et.Description,
		et.UnitName,
		et.CreditsPerUnit,
		et.ListPricePerCredit,
		et.Billable,
		et.Active,
		et.UpdatedAt,
		et.EventKey,
	).Error
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, eventKey string) (*ratecarddomain.MeteredEventType, error) {
	var et ratecarddomain.MeteredEventType
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM metered_event_types WHERE event_key = ?`,
		eventKey,
	).Scan(&et).Error
	if err != nil {
		return nil, err
	}
	if et.EventKey == "" {
		return nil, nil
	}
	return &et, nil
}

func (r *repo) FindByKeys(ctx context.Context, db *gorm.DB, eventKeys []string) ([]ratecarddomain.MeteredEventType, error) {
	if len(eventKeys) == 0 {
		return nil, nil
	}
	var items []ratecarddomain.MeteredEventType
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM metered_event_types WHERE event_key IN ?`,
		eventKeys,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]ratecarddomain.MeteredEventType, error) {
	var items []ratecarddomain.MeteredEventType
	err := db.WithContext(ctx).Raw(
		`SELECT ` + selectColumns + ` FROM metered_event_types ORDER BY event_key ASC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
