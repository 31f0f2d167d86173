package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/subtrackhq/subtrack/internal/catalog/domain"
)

type Status string

const (
	StatusTrialing      Status = "trialing"
	StatusActive        Status = "active"
	StatusPastDue       Status = "past_due"
	StatusGracePeriod   Status = "grace_period"
	StatusPaymentFailed Status = "payment_failed"
	StatusCanceled      Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusGracePeriod, StatusPaymentFailed, StatusCanceled:
		return true
	}
	return false
}

// Live reports whether the status blocks creating another subscription.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue
}

// Entitled reports whether a premium tier on this status grants access.
// Grace period keeps access until the expiry job runs.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue || s == StatusGracePeriod
}

type Provider string

const (
	ProviderNone   Provider = ""
	ProviderStripe Provider = "stripe"
	ProviderApple  Provider = "apple"
)

// SubscriptionRecord is the single row per user holding entitlement and
// provider linkage. Only the webhook reconciler and receipt validator write
// tier and status.
type SubscriptionRecord struct {
	ID                     snowflake.ID               `json:"id" gorm:"primaryKey"`
	UserID                 string                     `json:"user_id" gorm:"type:varchar(128);not null;uniqueIndex"`
	TierID                 snowflake.ID               `json:"tier_id" gorm:"not null;index"`
	Status                 Status                     `json:"status" gorm:"type:varchar(20);not null"`
	Provider               Provider                   `json:"provider" gorm:"type:varchar(20)"`
	ProviderCustomerID     *string                    `json:"provider_customer_id" gorm:"type:varchar(255);index"`
	ProviderSubscriptionID *string                    `json:"provider_subscription_id" gorm:"type:varchar(255);index"`
	BillingCycle           catalogdomain.BillingCycle `json:"billing_cycle" gorm:"type:varchar(10)"`
	CurrentPeriodStart     *time.Time                 `json:"current_period_start"`
	CurrentPeriodEnd       *time.Time                 `json:"current_period_end"`
	CancelAtPeriodEnd      bool                       `json:"cancel_at_period_end" gorm:"not null;default:false"`
	CanceledAt             *time.Time                 `json:"canceled_at"`
	CreatedAt              time.Time                  `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time                  `json:"updated_at" gorm:"not null"`
}

func (SubscriptionRecord) TableName() string { return "subscription_records" }

// Validate checks the record-level invariants before it is persisted.
func (r *SubscriptionRecord) Validate(freeTierID snowflake.ID) error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrInvalidUser
	}
	if !r.Status.Valid() {
		return ErrInvalidStatus
	}
	if r.Status == StatusCanceled && r.TierID != freeTierID {
		return ErrCanceledNotFree
	}
	if r.Provider == ProviderStripe && r.Status != StatusCanceled && StringValue(r.ProviderSubscriptionID) == "" {
		return ErrMissingProviderSubscription
	}
	return nil
}

// Changes lists optional fields written alongside tier and status. Nil
// pointers leave the column untouched.
type Changes struct {
	Provider               *Provider
	ProviderCustomerID     *string
	ProviderSubscriptionID *string
	BillingCycle           *catalogdomain.BillingCycle
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      *bool
	CanceledAt             *time.Time
}

// EntitlementUpdate is a whole-field replacement of tier and status. The
// target values are always concrete so that out-of-order deliveries converge.
type EntitlementUpdate struct {
	TierID snowflake.ID
	Status Status
	Changes

	// IfStatus restricts the update to rows currently in that status.
	IfStatus Status
}

func StringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func StringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

var (
	ErrInvalidUser                 = errors.New("invalid_user")
	ErrInvalidStatus               = errors.New("invalid_status")
	ErrCanceledNotFree             = errors.New("canceled_subscription_must_be_free")
	ErrMissingProviderSubscription = errors.New("missing_provider_subscription_id")
)

// Apply projects an entitlement update onto a copy of the record so the
// invariants can be checked before anything is written.
func (r SubscriptionRecord) Apply(update EntitlementUpdate) SubscriptionRecord {
	r.TierID = update.TierID
	r.Status = update.Status
	return r.WithChanges(update.Changes)
}

func (r SubscriptionRecord) WithChanges(c Changes) SubscriptionRecord {
	if c.Provider != nil {
		r.Provider = *c.Provider
	}
	if c.ProviderCustomerID != nil {
		r.ProviderCustomerID = c.ProviderCustomerID
	}
	if c.ProviderSubscriptionID != nil {
		r.ProviderSubscriptionID = c.ProviderSubscriptionID
	}
	if c.BillingCycle != nil {
		r.BillingCycle = *c.BillingCycle
	}
	if c.CurrentPeriodStart != nil {
		r.CurrentPeriodStart = c.CurrentPeriodStart
	}
	if c.CurrentPeriodEnd != nil {
		r.CurrentPeriodEnd = c.CurrentPeriodEnd
	}
	if c.CancelAtPeriodEnd != nil {
		r.CancelAtPeriodEnd = *c.CancelAtPeriodEnd
	}
	if c.CanceledAt != nil {
		r.CanceledAt = c.CanceledAt
	}
	return r
}
