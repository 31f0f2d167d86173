package repository

import (
	"context"

	"github.com/subtrackhq/subtrack/internal/receipt/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert reports false when the transaction id is already audited.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, tx *domain.ReceiptTransaction) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoNothing: true,
	}).Create(tx)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*domain.ReceiptTransaction, error) {
	var tx domain.ReceiptTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, transaction_id, original_transaction_id, product_id, environment,
		        purchased_at, expires_at, encrypted_receipt, created_at
		 FROM receipt_transactions WHERE transaction_id = ? LIMIT 1`,
		transactionID,
	).Scan(&tx).Error
	if err != nil {
		return nil, err
	}
	if tx.ID == 0 {
		return nil, nil
	}
	return &tx, nil
}
