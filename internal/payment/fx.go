package payment

import (
	"github.com/subtrackhq/subtrack/internal/config"
	"github.com/subtrackhq/subtrack/internal/observability"
	"github.com/subtrackhq/subtrack/internal/payment/adapters/stripe"
	"github.com/subtrackhq/subtrack/internal/payment/repository"
	"github.com/subtrackhq/subtrack/internal/payment/webhook"
	subscriptiondomain "github.com/subtrackhq/subtrack/internal/subscription/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) webhook.EventSource {
		return stripe.NewAdapter(cfg.Billing.StripeWebhookSecret)
	}),
	fx.Provide(func(cfg config.Config) (subscriptiondomain.Gateway, error) {
		return stripe.NewGateway(cfg.Billing.StripeSecretKey, nil)
	}),
	fx.Provide(func(m *observability.Metrics) webhook.Recorder {
		return m
	}),
	fx.Provide(webhook.NewService),
)
