package repository

import (
	"context"
	"time"

	"github.com/subtrackhq/subtrack/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const recordColumns = `id, user_id, tier_id, status, provider, provider_customer_id, provider_subscription_id,
	billing_cycle, current_period_start, current_period_end, cancel_at_period_end, canceled_at, created_at, updated_at`

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*domain.SubscriptionRecord, error) {
	return r.findOne(ctx, db, `user_id = ?`, userID)
}

func (r *repo) FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, providerSubscriptionID string) (*domain.SubscriptionRecord, error) {
	return r.findOne(ctx, db, `provider_subscription_id = ?`, providerSubscriptionID)
}

func (r *repo) FindByProviderCustomerID(ctx context.Context, db *gorm.DB, providerCustomerID string) (*domain.SubscriptionRecord, error) {
	return r.findOne(ctx, db, `provider_customer_id = ?`, providerCustomerID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.SubscriptionRecord, error) {
	var rec domain.SubscriptionRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM subscription_records WHERE `+where+` ORDER BY updated_at DESC LIMIT 1`,
		arg,
	).Scan(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}

// Upsert writes the whole record keyed by user id. The existing row keeps its
// id and created_at.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, record *domain.SubscriptionRecord) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tier_id",
			"status",
			"provider",
			"provider_customer_id",
			"provider_subscription_id",
			"billing_cycle",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"canceled_at",
			"updated_at",
		}),
	}).Create(record).Error
}

func (r *repo) SetEntitlement(ctx context.Context, db *gorm.DB, userID string, update domain.EntitlementUpdate, at time.Time) (bool, error) {
	values := changeValues(update.Changes)
	values["tier_id"] = int64(update.TierID)
	values["status"] = string(update.Status)
	values["updated_at"] = at

	q := db.WithContext(ctx).Model(&domain.SubscriptionRecord{}).Where("user_id = ?", userID)
	if update.IfStatus != "" {
		q = q.Where("status = ?", string(update.IfStatus))
	}
	res := q.Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateProviderState(ctx context.Context, db *gorm.DB, userID string, status domain.Status, changes domain.Changes, at time.Time) (bool, error) {
	values := changeValues(changes)
	values["status"] = string(status)
	values["updated_at"] = at

	res := db.WithContext(ctx).Model(&domain.SubscriptionRecord{}).
		Where("user_id = ?", userID).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListExpiredGrace(ctx context.Context, db *gorm.DB, updatedBefore time.Time) ([]domain.SubscriptionRecord, error) {
	var items []domain.SubscriptionRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM subscription_records
		 WHERE status = ? AND updated_at < ?
		 ORDER BY updated_at ASC`,
		string(domain.StatusGracePeriod),
		updatedBefore,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func changeValues(c domain.Changes) map[string]any {
	values := map[string]any{}
	if c.Provider != nil {
		values["provider"] = string(*c.Provider)
	}
	if c.ProviderCustomerID != nil {
		values["provider_customer_id"] = *c.ProviderCustomerID
	}
	if c.ProviderSubscriptionID != nil {
		values["provider_subscription_id"] = *c.ProviderSubscriptionID
	}
	if c.BillingCycle != nil {
		values["billing_cycle"] = string(*c.BillingCycle)
	}
	if c.CurrentPeriodStart != nil {
		values["current_period_start"] = *c.CurrentPeriodStart
	}
	if c.CurrentPeriodEnd != nil {
		values["current_period_end"] = *c.CurrentPeriodEnd
	}
	if c.CancelAtPeriodEnd != nil {
		values["cancel_at_period_end"] = *c.CancelAtPeriodEnd
	}
	if c.CanceledAt != nil {
		values["canceled_at"] = *c.CanceledAt
	}
	return values
}
