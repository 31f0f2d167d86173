package domain

import (
	"context"
	"errors"
	"time"

	catalogdomain "github.com/subtrackhq/subtrack/internal/catalog/domain"
)

// Service backs the authenticated subscription endpoints. It only talks to
// the provider; tier and status changes arrive through the webhook path.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*CreateResponse, error)
	SwitchBillingCycle(ctx context.Context, req SwitchBillingCycleRequest) (*SwitchBillingCycleResponse, error)
	Cancel(ctx context.Context, userID string) (*CancelResponse, error)
	Entitlement(ctx context.Context, userID string) (*Entitlement, error)
	ExpireGracePeriods(ctx context.Context) (int, error)
}

type CreateRequest struct {
	UserID       string `json:"-"`
	Email        string `json:"-"`
	BillingCycle string `json:"billingCycle"`

	// IdempotencyKey overrides the derived provider key when the client
	// sends one.
	IdempotencyKey string `json:"-"`
}

type CreateResponse struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientSecret   string `json:"clientSecret"`
	CustomerID     string `json:"customerId"`
	Status         string `json:"status"`
}

type SwitchBillingCycleRequest struct {
	UserID          string `json:"-"`
	NewBillingCycle string `json:"newBillingCycle"`
}

type SwitchBillingCycleResponse struct {
	BillingCycle    catalogdomain.BillingCycle `json:"billingCycle"`
	ProratedAmount  int64                      `json:"proratedAmount"`
	Currency        string                     `json:"currency"`
	NextBillingDate *time.Time                 `json:"nextBillingDate,omitempty"`
}

type CancelResponse struct {
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd,omitempty"`
}

type Entitlement struct {
	Tier             string     `json:"tier"`
	Status           string     `json:"status"`
	IsPremium        bool       `json:"isPremium"`
	BillingCycle     string     `json:"billingCycle,omitempty"`
	Provider         string     `json:"provider,omitempty"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
}

// Gateway is the provider-side subscription API.
type Gateway interface {
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateSubscription(ctx context.Context, input CreateSubscriptionInput) (*ProviderSubscription, error)
	SwapPrice(ctx context.Context, providerSubscriptionID, priceID string) (*PriceSwap, error)
	CancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string) (*ProviderSubscription, error)
}

type CreateSubscriptionInput struct {
	CustomerID     string
	PriceID        string
	UserID         string
	IdempotencyKey string
}

type ProviderSubscription struct {
	ID                string
	Status            string
	ClientSecret      string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
}

type PriceSwap struct {
	ProratedAmount  int64
	Currency        string
	NextBillingDate *time.Time
}

var (
	ErrSubscriptionExists   = errors.New("subscription_exists")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSameBillingCycle     = errors.New("same_billing_cycle")
	ErrUnsupportedProvider  = errors.New("unsupported_provider")
)
