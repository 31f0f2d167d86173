package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Append(ctx context.Context, db *gorm.DB, tx *Transaction) (bool, error)
	FindByProviderPaymentID(ctx context.Context, db *gorm.DB, providerPaymentID string) (*Transaction, error)
	MarkRefunded(ctx context.Context, db *gorm.DB, providerPaymentID string, at time.Time) (bool, error)
	CompleteApprovedRefunds(ctx context.Context, db *gorm.DB, subscriptionRecordID snowflake.ID, at time.Time) (int64, error)
}
