package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tx *ReceiptTransaction) (bool, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*ReceiptTransaction, error)
}
