package stripe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	subscriptiondomain "github.com/subtrackhq/subtrack/internal/subscription/domain"
)

var ErrAPIKeyMissing = errors.New("stripe_api_key_missing")

// Gateway is the Stripe side of the subscription endpoints.
type Gateway struct {
	api *client.API
}

func NewGateway(apiKey string, backends *stripego.Backends) (*Gateway, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrAPIKeyMissing
	}
	sc := &client.API{}
	sc.Init(apiKey, backends)
	return &Gateway{api: sc}, nil
}

var customerNamespace = uuid.MustParse("0f3f8a52-2d7e-4c51-8d0c-6a0f0d6f7b21")

func (g *Gateway) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripego.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripego.String(email)
	}
	params.AddMetadata("user_id", userID)
	params.SetIdempotencyKey(uuid.NewSHA1(customerNamespace, []byte(userID)).String())

	cus, err := g.api.Customers.New(params)
	if err != nil {
		return "", err
	}
	return cus.ID, nil
}

// CreateSubscription starts an incomplete subscription whose first invoice
// is confirmed client-side with the returned secret.
func (g *Gateway) CreateSubscription(ctx context.Context, input subscriptiondomain.CreateSubscriptionInput) (*subscriptiondomain.ProviderSubscription, error) {
	params := &stripego.SubscriptionParams{
		Customer: stripego.String(input.CustomerID),
		Items: []*stripego.SubscriptionItemsParams{
			{Price: stripego.String(input.PriceID)},
		},
		PaymentBehavior: stripego.String("default_incomplete"),
		PaymentSettings: &stripego.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripego.String("on_subscription"),
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", input.UserID)
	params.AddExpand("latest_invoice.confirmation_secret")
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	sub, err := g.api.Subscriptions.New(params)
	if err != nil {
		return nil, err
	}

	out := toProviderSubscription(sub)
	if sub.LatestInvoice != nil && sub.LatestInvoice.ConfirmationSecret != nil {
		out.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
	}
	return out, nil
}

// SwapPrice moves the single subscription item to a new price and invoices
// the proration immediately.
func (g *Gateway) SwapPrice(ctx context.Context, providerSubscriptionID, priceID string) (*subscriptiondomain.PriceSwap, error) {
	getParams := &stripego.SubscriptionParams{}
	getParams.Context = ctx
	current, err := g.api.Subscriptions.Get(providerSubscriptionID, getParams)
	if err != nil {
		return nil, err
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	params := &stripego.SubscriptionParams{
		Items: []*stripego.SubscriptionItemsParams{
			{
				ID:    stripego.String(current.Items.Data[0].ID),
				Price: stripego.String(priceID),
			},
		},
		ProrationBehavior: stripego.String("always_invoice"),
	}
	params.Context = ctx
	params.AddExpand("latest_invoice")

	updated, err := g.api.Subscriptions.Update(providerSubscriptionID, params)
	if err != nil {
		return nil, err
	}

	out := &subscriptiondomain.PriceSwap{}
	if updated.LatestInvoice != nil {
		out.ProratedAmount = updated.LatestInvoice.AmountDue
		out.Currency = string(updated.LatestInvoice.Currency)
	}
	out.NextBillingDate = periodEnd(updated)
	return out, nil
}

func (g *Gateway) CancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string) (*subscriptiondomain.ProviderSubscription, error) {
	params := &stripego.SubscriptionParams{
		CancelAtPeriodEnd: stripego.Bool(true),
	}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Update(providerSubscriptionID, params)
	if err != nil {
		return nil, err
	}
	return toProviderSubscription(sub), nil
}

func toProviderSubscription(sub *stripego.Subscription) *subscriptiondomain.ProviderSubscription {
	return &subscriptiondomain.ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  periodEnd(sub),
	}
}

func periodEnd(sub *stripego.Subscription) *time.Time {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].CurrentPeriodEnd == 0 {
		return nil
	}
	t := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0).UTC()
	return &t
}
