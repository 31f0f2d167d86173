package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*SubscriptionRecord, error)
	FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, providerSubscriptionID string) (*SubscriptionRecord, error)
	FindByProviderCustomerID(ctx context.Context, db *gorm.DB, providerCustomerID string) (*SubscriptionRecord, error)
	Upsert(ctx context.Context, db *gorm.DB, record *SubscriptionRecord) error
	SetEntitlement(ctx context.Context, db *gorm.DB, userID string, update EntitlementUpdate, at time.Time) (bool, error)
	UpdateProviderState(ctx context.Context, db *gorm.DB, userID string, status Status, changes Changes, at time.Time) (bool, error)
	ListExpiredGrace(ctx context.Context, db *gorm.DB, updatedBefore time.Time) ([]SubscriptionRecord, error)
}
