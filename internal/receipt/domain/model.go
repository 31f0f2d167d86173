package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ReceiptTransaction is the audit row for one validated store transaction.
// It never grants entitlement on its own.
type ReceiptTransaction struct {
	ID                    snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID                string       `json:"user_id" gorm:"type:varchar(128);not null;index"`
	TransactionID         string       `json:"transaction_id" gorm:"type:varchar(100);not null;uniqueIndex"`
	OriginalTransactionID string       `json:"original_transaction_id" gorm:"type:varchar(100);index"`
	ProductID             string       `json:"product_id" gorm:"type:varchar(100);not null"`
	Environment           string       `json:"environment" gorm:"type:varchar(20)"`
	PurchasedAt           time.Time    `json:"purchased_at"`
	ExpiresAt             time.Time    `json:"expires_at"`
	EncryptedReceipt      []byte       `json:"-" gorm:"not null"`
	CreatedAt             time.Time    `json:"created_at" gorm:"not null"`
}

func (ReceiptTransaction) TableName() string { return "receipt_transactions" }

// Subscription is the client-facing summary of the applied purchase.
type Subscription struct {
	Tier                  string    `json:"tier"`
	ProductID             string    `json:"productId"`
	TransactionID         string    `json:"transactionId"`
	OriginalTransactionID string    `json:"originalTransactionId"`
	PurchaseDate          time.Time `json:"purchaseDate"`
	ExpirationDate        time.Time `json:"expirationDate"`
	Environment           string    `json:"environment"`
}
