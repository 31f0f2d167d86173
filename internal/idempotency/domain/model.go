package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	SourceStripe = "stripe"
	SourceApple  = "apple"
)

// Key identifies one externally generated event or transaction. Rendering it
// as "source:id" keeps webhook event ids and store transaction ids from
// colliding in the shared ledger.
type Key struct {
	Source string
	ID     string
}

func (k Key) String() string {
	return k.Source + ":" + k.ID
}

func (k Key) Valid() bool {
	return strings.TrimSpace(k.Source) != "" && strings.TrimSpace(k.ID) != ""
}

func StripeEvent(eventID string) Key { return Key{Source: SourceStripe, ID: eventID} }

func AppleTransaction(transactionID string) Key {
	return Key{Source: SourceApple, ID: transactionID}
}

// ProcessedEvent is a ledger row. Its presence means the keyed event must not
// be applied again.
type ProcessedEvent struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	Key         string         `json:"key" gorm:"column:event_key;type:varchar(255);not null;uniqueIndex"`
	Source      string         `json:"source" gorm:"type:varchar(20);not null"`
	EventType   string         `json:"event_type" gorm:"type:varchar(100);not null"`
	RawPayload  datatypes.JSON `json:"raw_payload" gorm:"type:json"`
	ProcessedAt time.Time      `json:"processed_at" gorm:"not null;index"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }

// Ledger is the single duplicate-detection surface shared by the webhook and
// receipt paths.
type Ledger interface {
	HasProcessed(ctx context.Context, key Key) (bool, error)
	// MarkProcessed inserts the key if absent and reports whether this call
	// created the row.
	MarkProcessed(ctx context.Context, key Key, eventType string, raw []byte) (bool, error)
	// PurgeBefore drops webhook keys older than cutoff. Apple transaction
	// keys are never purged.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var ErrInvalidKey = errors.New("invalid_idempotency_key")
