package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByName(ctx context.Context, db *gorm.DB, name string) (*Tier, error)
	List(ctx context.Context, db *gorm.DB) ([]Tier, error)
	Upsert(ctx context.Context, db *gorm.DB, tier *Tier) error
}
