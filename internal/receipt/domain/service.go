package domain

import (
	"context"
	"errors"
)

type Request struct {
	ReceiptData string `json:"receiptData" validate:"required"`
	UserID      string `json:"userId" validate:"required,max=128"`
}

type Result struct {
	AlreadyProcessed bool
	Subscription     Subscription
}

// AuditedReceipt is an audit row with its receipt blob decrypted.
type AuditedReceipt struct {
	Transaction ReceiptTransaction
	ReceiptData string
}

type Service interface {
	Validate(ctx context.Context, req Request) (*Result, error)
	// AuditedReceipt returns nil when the transaction was never audited.
	AuditedReceipt(ctx context.Context, transactionID string) (*AuditedReceipt, error)
}

// Verifier submits a receipt to the store. Implementations own the
// production to sandbox retry.
type Verifier interface {
	Verify(ctx context.Context, receiptData string) (*VerifyResponse, error)
}

var (
	ErrMissingReceipt       = &ValidationError{Message: "receiptData is required"}
	ErrMissingUser          = &ValidationError{Message: "userId is required"}
	ErrSignedTransaction    = &ValidationError{Message: "signed StoreKit 2 transactions are not supported; send the app receipt"}
	ErrInvalidEncoding      = &ValidationError{Message: "receiptData must be base64"}
	ErrReceiptTooShort      = &ValidationError{Message: "receiptData is too short"}
	ErrBundleMismatch       = &ValidationError{Message: "receipt bundle id does not match"}
	ErrNoActiveSubscription = &ValidationError{Message: "no active subscription in receipt"}
	ErrMissingTransaction   = &ValidationError{Message: "receipt entry has no transaction id"}
	ErrStoreUnreachable     = &ValidationError{Message: "receipt server is unreachable", ShouldRetry: true}

	// ErrEntitlementNotApplied means the audit row was written but the
	// subscription record was not.
	ErrEntitlementNotApplied = errors.New("entitlement_not_applied")
)
