package domain

import (
	"context"
	"errors"
)

var ErrReceiptRateLimited = errors.New("receipt_rate_limited")

type Service interface {
	// AllowReceiptValidation counts one attempt for the user and rejects it
	// once the hourly cap is exceeded.
	AllowReceiptValidation(ctx context.Context, userID string) error
}
