package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/subtrackhq/subtrack/internal/catalog/domain"
	"github.com/subtrackhq/subtrack/internal/clock"
	idempotencydomain "github.com/subtrackhq/subtrack/internal/idempotency/domain"
	paymentdomain "github.com/subtrackhq/subtrack/internal/payment/domain"
	subscriptiondomain "github.com/subtrackhq/subtrack/internal/subscription/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventSource authenticates and decodes provider deliveries. Parse may
// return the envelope alongside an error when only the object is unreadable.
type EventSource interface {
	Verify(ctx context.Context, payload []byte, signature string) error
	Parse(ctx context.Context, payload []byte) (*paymentdomain.ProviderEvent, error)
}

// Recorder receives processing outcomes. It is the only channel on which
// handler failures surface; the sender always gets an acknowledgement.
type Recorder interface {
	WebhookProcessed(eventType, outcome string)
	SubscriptionTransition(status, source string)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Source   EventSource
	Ledger   idempotencydomain.Ledger
	Repo     paymentdomain.Repository
	SubRepo  subscriptiondomain.Repository
	Catalog  catalogdomain.Service
	Recorder Recorder `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	source   EventSource
	ledger   idempotencydomain.Ledger
	repo     paymentdomain.Repository
	subRepo  subscriptiondomain.Repository
	catalog  catalogdomain.Service
	recorder Recorder
	tracer   trace.Tracer
}

func NewService(p Params) paymentdomain.WebhookService {
	recorder := p.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		genID:    p.GenID,
		clock:    p.Clock,
		source:   p.Source,
		ledger:   p.Ledger,
		repo:     p.Repo,
		subRepo:  p.SubRepo,
		catalog:  p.Catalog,
		recorder: recorder,
		tracer:   otel.Tracer("subtrack/payment.webhook"),
	}
}

// Ingest returns an error only when the delivery is not authentic. Once the
// signature checks out every path returns a result and a nil error.
func (s *Service) Ingest(ctx context.Context, payload []byte, signature string) (*paymentdomain.IngestResult, error) {
	if err := s.source.Verify(ctx, payload, signature); err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err), zap.Int("payload_size", len(payload)))
		return nil, err
	}

	event, err := s.source.Parse(ctx, payload)
	if err != nil {
		if event == nil || event.ID == "" {
			s.log.Error("webhook payload unreadable", zap.Error(err), zap.Int("payload_size", len(payload)))
			s.recorder.WebhookProcessed("unknown", paymentdomain.OutcomeFailed)
			return &paymentdomain.IngestResult{Outcome: paymentdomain.OutcomeFailed}, nil
		}
		return s.recordUnreadable(ctx, event, payload, err), nil
	}

	ctx, span := s.tracer.Start(ctx, "webhook.ingest", trace.WithAttributes(
		attribute.String("stripe.event_id", event.ID),
		attribute.String("stripe.event_type", event.Type),
	))
	defer span.End()

	result := &paymentdomain.IngestResult{EventID: event.ID, Type: event.Type}
	log := s.log.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))
	key := idempotencydomain.StripeEvent(event.ID)

	processed, err := s.ledger.HasProcessed(ctx, key)
	if err != nil {
		// Handlers converge on explicit targets and transactions dedupe on
		// payment id, so applying an event twice is safer than dropping it.
		log.Error("idempotency lookup failed, applying event", zap.Error(err))
	}
	if processed {
		log.Info("duplicate webhook delivery")
		result.Outcome = paymentdomain.OutcomeDuplicate
		s.recorder.WebhookProcessed(event.Type, result.Outcome)
		return result, nil
	}

	handled, herr := s.dispatch(ctx, event)
	switch {
	case herr != nil:
		result.Outcome = paymentdomain.OutcomeFailed
		span.SetStatus(codes.Error, herr.Error())
		log.Error("webhook handler failed", zap.Error(herr))
	case !handled:
		result.Outcome = paymentdomain.OutcomeIgnored
		log.Info("webhook event type ignored")
	default:
		result.Outcome = paymentdomain.OutcomeApplied
	}

	if _, err := s.ledger.MarkProcessed(ctx, key, event.Type, maskPayload(payload)); err != nil {
		log.Error("failed to record processed event", zap.Error(err))
	}

	s.recorder.WebhookProcessed(event.Type, result.Outcome)
	return result, nil
}

// recordUnreadable marks an authentic delivery whose object could not be
// decoded, so redeliveries are reported as duplicates.
func (s *Service) recordUnreadable(ctx context.Context, event *paymentdomain.ProviderEvent, payload []byte, cause error) *paymentdomain.IngestResult {
	log := s.log.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))
	log.Error("webhook object unreadable", zap.Error(cause))

	result := &paymentdomain.IngestResult{EventID: event.ID, Type: event.Type, Outcome: paymentdomain.OutcomeFailed}
	inserted, err := s.ledger.MarkProcessed(ctx, idempotencydomain.StripeEvent(event.ID), event.Type, maskPayload(payload))
	switch {
	case err != nil:
		log.Error("failed to record processed event", zap.Error(err))
	case !inserted:
		result.Outcome = paymentdomain.OutcomeDuplicate
	}
	s.recorder.WebhookProcessed(event.Type, result.Outcome)
	return result
}

func (s *Service) dispatch(ctx context.Context, event *paymentdomain.ProviderEvent) (bool, error) {
	switch event.Type {
	case paymentdomain.EventSubscriptionCreated:
		return true, s.handleSubscriptionCreated(ctx, event)
	case paymentdomain.EventSubscriptionUpdated:
		return true, s.handleSubscriptionUpdated(ctx, event)
	case paymentdomain.EventSubscriptionDeleted:
		return true, s.handleSubscriptionDeleted(ctx, event)
	case paymentdomain.EventInvoicePaymentSucceeded:
		return true, s.handleInvoicePaymentSucceeded(ctx, event)
	case paymentdomain.EventInvoicePaymentFailed:
		return true, s.handleInvoicePaymentFailed(ctx, event)
	case paymentdomain.EventChargeRefunded:
		return true, s.handleChargeRefunded(ctx, event)
	case paymentdomain.EventPaymentIntentSucceeded:
		return true, s.handlePaymentIntentSucceeded(ctx, event)
	case paymentdomain.EventPaymentIntentFailed:
		return true, s.handlePaymentIntentFailed(ctx, event)
	default:
		return false, nil
	}
}

type nopRecorder struct{}

func (nopRecorder) WebhookProcessed(string, string)       {}
func (nopRecorder) SubscriptionTransition(string, string) {}

var errMissingObject = errors.New("event_object_missing")

func maskPayload(raw []byte) []byte {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	maskMap(obj)
	masked, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return masked
}

func maskMap(m map[string]any) {
	for k, v := range m {
		switch strings.ToLower(k) {
		case "card", "billing_details", "shipping", "shipping_details", "payment_method_details", "customer_email", "customer_address":
			m[k] = "***"
		default:
			if nested, ok := v.(map[string]any); ok {
				maskMap(nested)
			} else if arr, ok := v.([]any); ok {
				for _, item := range arr {
					if itemMap, ok := item.(map[string]any); ok {
						maskMap(itemMap)
					}
				}
			}
		}
	}
}
