package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	catalogdomain "github.com/subtrackhq/subtrack/internal/catalog/domain"
	"github.com/subtrackhq/subtrack/internal/clock"
	"github.com/subtrackhq/subtrack/internal/config"
	"github.com/subtrackhq/subtrack/internal/observability"
	subscriptiondomain "github.com/subtrackhq/subtrack/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock       clock.Clock
	repo        subscriptiondomain.Repository
	catalog     catalogdomain.Service
	gateway     subscriptiondomain.Gateway
	metrics     *observability.Metrics
	gracePeriod time.Duration
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Cfg     config.Config
	Repo    subscriptiondomain.Repository
	Catalog catalogdomain.Service
	Gateway subscriptiondomain.Gateway
	Metrics *observability.Metrics `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	grace := time.Duration(p.Cfg.GracePeriodDays) * 24 * time.Hour
	if grace <= 0 {
		grace = 7 * 24 * time.Hour
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		clock:       p.Clock,
		repo:        p.Repo,
		catalog:     p.Catalog,
		gateway:     p.Gateway,
		metrics:     p.Metrics,
		gracePeriod: grace,
	}
}

// idempotencyNamespace scopes the deterministic keys sent to the provider.
var idempotencyNamespace = uuid.MustParse("5b0c8a6e-5f7e-4d3c-9a51-3f8e2f4b7c10")

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.CreateResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	cycle, ok := catalogdomain.NormalizeBillingCycle(req.BillingCycle)
	if !ok {
		return nil, catalogdomain.ErrInvalidBillingCycle
	}
	priceID, err := s.catalog.PriceIDForCycle(cycle)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status.Live() {
		return nil, subscriptiondomain.ErrSubscriptionExists
	}

	var customerID string
	if existing != nil && existing.Provider != subscriptiondomain.ProviderApple {
		customerID = subscriptiondomain.StringValue(existing.ProviderCustomerID)
	}
	if customerID == "" {
		customerID, err = s.gateway.CreateCustomer(ctx, userID, strings.TrimSpace(req.Email))
		if err != nil {
			s.log.Error("failed to create provider customer", zap.String("user_id", userID), zap.Error(err))
			return nil, err
		}
	}

	// Retries within the same hour map onto one provider subscription.
	now := s.clock.Now(ctx)
	key := uuid.NewSHA1(idempotencyNamespace, []byte(strings.Join([]string{
		userID,
		customerID,
		string(cycle),
		now.Truncate(time.Hour).Format(time.RFC3339),
	}, "|"))).String()
	if clientKey := strings.TrimSpace(req.IdempotencyKey); clientKey != "" {
		key = uuid.NewSHA1(idempotencyNamespace, []byte(userID+"|"+clientKey)).String()
	}

	sub, err := s.gateway.CreateSubscription(ctx, subscriptiondomain.CreateSubscriptionInput{
		CustomerID:     customerID,
		PriceID:        priceID,
		UserID:         userID,
		IdempotencyKey: key,
	})
	if err != nil {
		s.log.Error("failed to create provider subscription",
			zap.String("user_id", userID),
			zap.String("customer_id", customerID),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("provider subscription created",
		zap.String("user_id", userID),
		zap.String("subscription_id", sub.ID),
		zap.String("billing_cycle", string(cycle)))

	return &subscriptiondomain.CreateResponse{
		SubscriptionID: sub.ID,
		ClientSecret:   sub.ClientSecret,
		CustomerID:     customerID,
		Status:         sub.Status,
	}, nil
}

func (s *Service) SwitchBillingCycle(ctx context.Context, req subscriptiondomain.SwitchBillingCycleRequest) (*subscriptiondomain.SwitchBillingCycleResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	cycle, ok := catalogdomain.NormalizeBillingCycle(req.NewBillingCycle)
	if !ok {
		return nil, catalogdomain.ErrInvalidBillingCycle
	}

	record, err := s.liveStripeRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record.BillingCycle == cycle {
		return nil, subscriptiondomain.ErrSameBillingCycle
	}

	priceID, err := s.catalog.PriceIDForCycle(cycle)
	if err != nil {
		return nil, err
	}

	// The local record is left alone; customer.subscription.updated carries
	// the new cycle back through the webhook path.
	swap, err := s.gateway.SwapPrice(ctx, subscriptiondomain.StringValue(record.ProviderSubscriptionID), priceID)
	if err != nil {
		s.log.Error("failed to switch billing cycle",
			zap.String("user_id", userID),
			zap.String("billing_cycle", string(cycle)),
			zap.Error(err))
		return nil, err
	}

	return &subscriptiondomain.SwitchBillingCycleResponse{
		BillingCycle:    cycle,
		ProratedAmount:  swap.ProratedAmount,
		Currency:        strings.ToUpper(swap.Currency),
		NextBillingDate: swap.NextBillingDate,
	}, nil
}

func (s *Service) Cancel(ctx context.Context, userID string) (*subscriptiondomain.CancelResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}

	record, err := s.liveStripeRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	sub, err := s.gateway.CancelAtPeriodEnd(ctx, subscriptiondomain.StringValue(record.ProviderSubscriptionID))
	if err != nil {
		s.log.Error("failed to cancel provider subscription", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	periodEnd := sub.CurrentPeriodEnd
	if periodEnd == nil {
		periodEnd = record.CurrentPeriodEnd
	}
	return &subscriptiondomain.CancelResponse{
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  periodEnd,
	}, nil
}

func (s *Service) liveStripeRecord(ctx context.Context, userID string) (*subscriptiondomain.SubscriptionRecord, error) {
	record, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if record == nil || !record.Status.Live() {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if record.Provider != subscriptiondomain.ProviderStripe {
		return nil, subscriptiondomain.ErrUnsupportedProvider
	}
	if subscriptiondomain.StringValue(record.ProviderSubscriptionID) == "" {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return record, nil
}

// Entitlement reads the record directly so confirmation pollers always see
// the latest committed state.
func (s *Service) Entitlement(ctx context.Context, userID string) (*subscriptiondomain.Entitlement, error) {
	started := time.Now()
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}

	record, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	out := &subscriptiondomain.Entitlement{Tier: catalogdomain.TierFree}
	if record != nil {
		tier, err := s.catalog.TierByID(ctx, record.TierID)
		if err != nil {
			return nil, err
		}
		out.Tier = tier.Name
		out.Status = string(record.Status)
		out.IsPremium = tier.Name == catalogdomain.TierPremium && record.Status.Entitled()
		out.BillingCycle = string(record.BillingCycle)
		out.Provider = string(record.Provider)
		out.CurrentPeriodEnd = record.CurrentPeriodEnd
	}

	s.metrics.EntitlementRead(out.Tier, time.Since(started).Seconds())
	return out, nil
}

// ExpireGracePeriods downgrades records whose grace window has elapsed. The
// status guard keeps a payment that landed in the meantime from being undone.
func (s *Service) ExpireGracePeriods(ctx context.Context) (int, error) {
	now := s.clock.Now(ctx)
	records, err := s.repo.ListExpiredGrace(ctx, s.db, now.Add(-s.gracePeriod))
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	freeTierID, err := s.catalog.TierIDByName(ctx, catalogdomain.TierFree)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, record := range records {
		canceledAt := now
		updated, err := s.repo.SetEntitlement(ctx, s.db, record.UserID, subscriptiondomain.EntitlementUpdate{
			TierID:   freeTierID,
			Status:   subscriptiondomain.StatusCanceled,
			Changes:  subscriptiondomain.Changes{CanceledAt: &canceledAt},
			IfStatus: subscriptiondomain.StatusGracePeriod,
		}, now)
		if err != nil {
			s.log.Error("failed to expire grace period", zap.String("user_id", record.UserID), zap.Error(err))
			continue
		}
		if updated {
			expired++
			s.metrics.SubscriptionTransition(string(subscriptiondomain.StatusCanceled), "grace_expiry")
		}
	}
	return expired, nil
}
