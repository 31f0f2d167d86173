package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type TransactionStatus string

const (
	TransactionSucceeded TransactionStatus = "succeeded"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
)

// Transaction is one charge or refund attempt. Rows are append-only; the only
// permitted mutation is status moving to refunded.
type Transaction struct {
	ID                   snowflake.ID      `json:"id" gorm:"primaryKey"`
	SubscriptionRecordID *snowflake.ID     `json:"subscription_record_id" gorm:"index"`
	UserID               string            `json:"user_id" gorm:"type:varchar(128);index"`
	Provider             string            `json:"provider" gorm:"type:varchar(20);not null"`
	ProviderPaymentID    string            `json:"provider_payment_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	ProviderInvoiceID    string            `json:"provider_invoice_id" gorm:"type:varchar(255);index"`
	Amount               int64             `json:"amount" gorm:"not null"`
	Currency             string            `json:"currency" gorm:"type:varchar(3);not null"`
	Status               TransactionStatus `json:"status" gorm:"type:varchar(20);not null"`
	Metadata             datatypes.JSONMap `json:"metadata" gorm:"type:json"`
	CreatedAt            time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time         `json:"updated_at" gorm:"not null"`
}

func (Transaction) TableName() string { return "payment_transactions" }

type RefundStatus string

const (
	RefundRequested RefundStatus = "requested"
	RefundApproved  RefundStatus = "approved"
	RefundCompleted RefundStatus = "completed"
	RefundRejected  RefundStatus = "rejected"
)

// RefundRequest is raised by support tooling; the reconciler only completes
// approved requests once the provider reports the refund.
type RefundRequest struct {
	ID                   snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID               string       `json:"user_id" gorm:"type:varchar(128);not null;index"`
	SubscriptionRecordID snowflake.ID `json:"subscription_record_id" gorm:"not null;index"`
	Reason               string       `json:"reason" gorm:"type:text"`
	Status               RefundStatus `json:"status" gorm:"type:varchar(20);not null"`
	CompletedAt          *time.Time   `json:"completed_at"`
	CreatedAt            time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time    `json:"updated_at" gorm:"not null"`
}

func (RefundRequest) TableName() string { return "refund_requests" }

// SyntheticPaymentID stands in for the payment intent id on invoices that
// were settled without one.
func SyntheticPaymentID(invoiceID string) string {
	return "invoice:" + invoiceID
}

// FailedAttemptID keys a failed attempt separately from the payment it
// belongs to, so a later successful capture of the same intent still appends.
func FailedAttemptID(paymentID, eventID string) string {
	return paymentID + "#failed:" + eventID
}
