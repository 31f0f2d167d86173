package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Exists(ctx context.Context, db *gorm.DB, key string) (bool, error)
	InsertIfAbsent(ctx context.Context, db *gorm.DB, event *ProcessedEvent) (bool, error)
	DeleteBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
