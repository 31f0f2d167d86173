package repository

import (
	"context"

	"github.com/subtrackhq/subtrack/internal/catalog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, name string) (*domain.Tier, error) {
	var t domain.Tier
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, monthly_price, annual_price, currency, subscription_item_limit, features, is_active, created_at, updated_at
		 FROM tiers WHERE name = ? LIMIT 1`,
		name,
	).Scan(&t).Error
	if err != nil {
		return nil, err
	}
	if t.ID == 0 {
		return nil, nil
	}
	return &t, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Tier, error) {
	var items []domain.Tier
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, monthly_price, annual_price, currency, subscription_item_limit, features, is_active, created_at, updated_at
		 FROM tiers ORDER BY monthly_price ASC, name ASC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Upsert is keyed by name so seeding can be rerun safely.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, tier *domain.Tier) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"monthly_price",
			"annual_price",
			"currency",
			"subscription_item_limit",
			"features",
			"is_active",
			"updated_at",
		}),
	}).Create(tier).Error
}
