package domain

import "time"

const (
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventChargeRefunded          = "charge.refunded"
	EventPaymentIntentSucceeded  = "payment_intent.succeeded"
	EventPaymentIntentFailed     = "payment_intent.payment_failed"
)

// ProviderEvent is the canonical webhook event produced by adapters. Exactly
// one of the object pointers is set for handled types; unknown types carry
// only the envelope.
type ProviderEvent struct {
	ID         string
	Type       string
	Created    time.Time
	Livemode   bool
	RawPayload []byte

	Subscription  *SubscriptionObject
	Invoice       *InvoiceObject
	Charge        *ChargeObject
	PaymentIntent *PaymentIntentObject
}

type SubscriptionObject struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	Interval           string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	Metadata           map[string]string
}

type InvoiceObject struct {
	ID              string
	CustomerID      string
	SubscriptionID  string
	PaymentIntentID string
	BillingReason   string
	AmountPaid      int64
	AmountDue       int64
	Currency        string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
	Metadata        map[string]string
}

type ChargeObject struct {
	ID              string
	CustomerID      string
	PaymentIntentID string
	InvoiceID       string
	Amount          int64
	AmountRefunded  int64
	Currency        string
	Metadata        map[string]string
}

type PaymentIntentObject struct {
	ID         string
	CustomerID string
	Amount     int64
	Currency   string
	LastError  string
	Metadata   map[string]string
}
