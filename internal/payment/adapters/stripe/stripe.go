package stripe

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
	paymentdomain "github.com/subtrackhq/subtrack/internal/payment/domain"
)

const SignatureHeader = "Stripe-Signature"

// Adapter verifies and decodes Stripe webhook deliveries.
type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
}

func NewAdapter(webhookSecret string) *Adapter {
	return &Adapter{
		webhookSecret: strings.TrimSpace(webhookSecret),
		tolerance:     webhook.DefaultTolerance,
	}
}

// Verify checks the v1 HMAC-SHA256 signature and timestamp tolerance. It
// does not look at the payload beyond the signed bytes.
func (a *Adapter) Verify(ctx context.Context, payload []byte, sigHeader string) error {
	sigHeader = strings.TrimSpace(sigHeader)
	if sigHeader == "" {
		return paymentdomain.ErrMissingSignature
	}
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.webhookSecret, a.tolerance); err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

// Parse decodes the event envelope and, for handled types, its object. An
// unreadable object yields the envelope together with the error.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.ProviderEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.ProviderEvent{
		ID:         event.ID,
		Type:       strings.TrimSpace(event.Type),
		Created:    timestamp(event.Created, 0),
		Livemode:   event.Livemode,
		RawPayload: payload,
	}

	var err error
	switch out.Type {
	case paymentdomain.EventSubscriptionCreated,
		paymentdomain.EventSubscriptionUpdated,
		paymentdomain.EventSubscriptionDeleted:
		out.Subscription, err = parseSubscription(event.Data.Object)
	case paymentdomain.EventInvoicePaymentSucceeded,
		paymentdomain.EventInvoicePaymentFailed:
		out.Invoice, err = parseInvoice(event.Data.Object)
	case paymentdomain.EventChargeRefunded:
		out.Charge, err = parseCharge(event.Data.Object)
	case paymentdomain.EventPaymentIntentSucceeded,
		paymentdomain.EventPaymentIntentFailed:
		out.PaymentIntent, err = parsePaymentIntent(event.Data.Object)
	}
	if err != nil {
		// The envelope is still returned so the delivery can be recorded.
		return out, err
	}
	return out, nil
}

type stripeEvent struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Created  int64           `json:"created"`
	Livemode bool            `json:"livemode"`
	Data     stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           expandable        `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID        string `json:"id"`
				Recurring *struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoice struct {
	ID            string            `json:"id"`
	Customer      expandable        `json:"customer"`
	Subscription  expandable        `json:"subscription"`
	PaymentIntent expandable        `json:"payment_intent"`
	BillingReason string            `json:"billing_reason"`
	AmountPaid    int64             `json:"amount_paid"`
	AmountDue     int64             `json:"amount_due"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`

	SubscriptionDetails *stripeSubscriptionDetails `json:"subscription_details"`
	Parent              *struct {
		SubscriptionDetails *stripeSubscriptionDetails `json:"subscription_details"`
	} `json:"parent"`
	Payments *struct {
		Data []struct {
			Payment struct {
				PaymentIntent expandable `json:"payment_intent"`
			} `json:"payment"`
		} `json:"data"`
	} `json:"payments"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

type stripeSubscriptionDetails struct {
	Subscription expandable        `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type stripeCharge struct {
	ID             string            `json:"id"`
	Customer       expandable        `json:"customer"`
	PaymentIntent  expandable        `json:"payment_intent"`
	Invoice        expandable        `json:"invoice"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

type stripePaymentIntent struct {
	ID               string            `json:"id"`
	Customer         expandable        `json:"customer"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func parseSubscription(raw json.RawMessage) (*paymentdomain.SubscriptionObject, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.SubscriptionObject{
		ID:                sub.ID,
		CustomerID:        sub.Customer.ID,
		Status:            strings.TrimSpace(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        optionalTime(sub.CanceledAt),
		Metadata:          sub.Metadata,
	}

	// Period bounds live on the item in newer API versions and on the
	// subscription in older ones.
	start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.PriceID = item.Price.ID
		if item.Price.Recurring != nil {
			out.Interval = item.Price.Recurring.Interval
		}
		if item.CurrentPeriodEnd != 0 {
			start, end = item.CurrentPeriodStart, item.CurrentPeriodEnd
		}
	}
	out.CurrentPeriodStart = optionalTime(start)
	out.CurrentPeriodEnd = optionalTime(end)
	return out, nil
}

func parseInvoice(raw json.RawMessage) (*paymentdomain.InvoiceObject, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(inv.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.InvoiceObject{
		ID:              inv.ID,
		CustomerID:      inv.Customer.ID,
		SubscriptionID:  inv.Subscription.ID,
		PaymentIntentID: inv.PaymentIntent.ID,
		BillingReason:   inv.BillingReason,
		AmountPaid:      inv.AmountPaid,
		AmountDue:       inv.AmountDue,
		Currency:        strings.ToUpper(strings.TrimSpace(inv.Currency)),
		Metadata:        map[string]string{},
	}

	for k, v := range inv.Metadata {
		out.Metadata[k] = v
	}
	details := inv.SubscriptionDetails
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		details = inv.Parent.SubscriptionDetails
	}
	if details != nil {
		if out.SubscriptionID == "" {
			out.SubscriptionID = details.Subscription.ID
		}
		// Subscription metadata is copied onto the invoice; explicit
		// invoice metadata wins.
		for k, v := range details.Metadata {
			if _, ok := out.Metadata[k]; !ok {
				out.Metadata[k] = v
			}
		}
	}
	if out.PaymentIntentID == "" && inv.Payments != nil {
		for _, p := range inv.Payments.Data {
			if p.Payment.PaymentIntent.ID != "" {
				out.PaymentIntentID = p.Payment.PaymentIntent.ID
				break
			}
		}
	}
	if len(inv.Lines.Data) > 0 {
		out.PeriodStart = optionalTime(inv.Lines.Data[0].Period.Start)
		out.PeriodEnd = optionalTime(inv.Lines.Data[0].Period.End)
	}
	return out, nil
}

func parseCharge(raw json.RawMessage) (*paymentdomain.ChargeObject, error) {
	var charge stripeCharge
	if err := json.Unmarshal(raw, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(charge.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return &paymentdomain.ChargeObject{
		ID:              charge.ID,
		CustomerID:      charge.Customer.ID,
		PaymentIntentID: charge.PaymentIntent.ID,
		InvoiceID:       charge.Invoice.ID,
		Amount:          charge.Amount,
		AmountRefunded:  charge.AmountRefunded,
		Currency:        strings.ToUpper(strings.TrimSpace(charge.Currency)),
		Metadata:        charge.Metadata,
	}, nil
}

func parsePaymentIntent(raw json.RawMessage) (*paymentdomain.PaymentIntentObject, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	out := &paymentdomain.PaymentIntentObject{
		ID:         intent.ID,
		CustomerID: intent.Customer.ID,
		Amount:     intent.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(intent.Currency)),
		Metadata:   intent.Metadata,
	}
	if intent.LastPaymentError != nil {
		out.LastError = strings.TrimSpace(intent.LastPaymentError.Code + " " + intent.LastPaymentError.Message)
	}
	return out, nil
}

// expandable decodes a Stripe reference that is either an id string or an
// expanded object carrying an id.
type expandable struct {
	ID string
}

func (e *expandable) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &e.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func optionalTime(value int64) *time.Time {
	if value == 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}
