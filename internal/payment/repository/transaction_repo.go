package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/subtrackhq/subtrack/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Append inserts the transaction unless its provider payment id is already
// recorded. Existing rows are never overwritten.
func (r *repo) Append(ctx context.Context, db *gorm.DB, tx *domain.Transaction) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_payment_id"}},
		DoNothing: true,
	}).Create(tx)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByProviderPaymentID(ctx context.Context, db *gorm.DB, providerPaymentID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_record_id, user_id, provider, provider_payment_id, provider_invoice_id,
		        amount, currency, status, metadata, created_at, updated_at
		 FROM payment_transactions WHERE provider_payment_id = ? LIMIT 1`,
		providerPaymentID,
	).Scan(&tx).Error
	if err != nil {
		return nil, err
	}
	if tx.ID == 0 {
		return nil, nil
	}
	return &tx, nil
}

func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, providerPaymentID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_transactions SET status = ?, updated_at = ?
		 WHERE provider_payment_id = ? AND status = ?`,
		string(domain.TransactionRefunded),
		at,
		providerPaymentID,
		string(domain.TransactionSucceeded),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CompleteApprovedRefunds(ctx context.Context, db *gorm.DB, subscriptionRecordID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE refund_requests SET status = ?, completed_at = ?, updated_at = ?
		 WHERE subscription_record_id = ? AND status = ?`,
		string(domain.RefundCompleted),
		at,
		at,
		int64(subscriptionRecordID),
		string(domain.RefundApproved),
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
