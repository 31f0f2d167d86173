package domain

import (
	"context"
	"errors"
)

// WebhookService ingests signed provider callbacks. A nil error means the
// sender must be acknowledged, whatever the processing outcome was.
type WebhookService interface {
	Ingest(ctx context.Context, payload []byte, signature string) (*IngestResult, error)
}

const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

type IngestResult struct {
	EventID string
	Type    string
	Outcome string
}

var (
	ErrMissingSignature = errors.New("missing_signature")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrUserNotResolved  = errors.New("user_not_resolved")
	ErrRecordNotFound   = errors.New("subscription_record_not_found")
)
