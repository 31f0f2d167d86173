package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	catalogdomain "github.com/subtrackhq/subtrack/internal/catalog/domain"
	"github.com/subtrackhq/subtrack/internal/clock"
	"github.com/subtrackhq/subtrack/internal/config"
	idempotencydomain "github.com/subtrackhq/subtrack/internal/idempotency/domain"
	"github.com/subtrackhq/subtrack/internal/observability"
	"github.com/subtrackhq/subtrack/internal/receipt/domain"
	"github.com/subtrackhq/subtrack/internal/security/vault"
	subscriptiondomain "github.com/subtrackhq/subtrack/internal/subscription/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Anything shorter cannot be a PKCS#7 app receipt.
const minReceiptBytes = 32

const ledgerEventType = "apple.receipt"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Verifier domain.Verifier
	Repo     domain.Repository
	SubRepo  subscriptiondomain.Repository
	Catalog  catalogdomain.Service
	Ledger   idempotencydomain.Ledger
	Vault    vault.Provider
	Metrics  *observability.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	bundleID string
	verifier domain.Verifier
	repo     domain.Repository
	subRepo  subscriptiondomain.Repository
	catalog  catalogdomain.Service
	ledger   idempotencydomain.Ledger
	vault    vault.Provider
	metrics  *observability.Metrics
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("receipt.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		bundleID: strings.TrimSpace(p.Cfg.Billing.AppleBundleID),
		verifier: p.Verifier,
		repo:     p.Repo,
		subRepo:  p.SubRepo,
		catalog:  p.Catalog,
		ledger:   p.Ledger,
		vault:    p.Vault,
		metrics:  p.Metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tracer:   otel.Tracer("subtrack/receipt"),
	}
}

func (s *Service) Validate(ctx context.Context, req domain.Request) (*domain.Result, error) {
	ctx, span := s.tracer.Start(ctx, "receipt.validate")
	defer span.End()

	res, err := s.process(ctx, req)

	outcome := "applied"
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		outcome = "rejected"
		if verr.ShouldRetry {
			outcome = "retryable"
		}
		span.SetAttributes(attribute.Int("apple.status", verr.Status))
	case err != nil:
		outcome = "error"
		span.SetStatus(codes.Error, err.Error())
	case res.AlreadyProcessed:
		outcome = "duplicate"
	}
	s.metrics.ReceiptValidated(outcome)
	return res, err
}

func (s *Service) process(ctx context.Context, req domain.Request) (*domain.Result, error) {
	req.ReceiptData = strings.TrimSpace(req.ReceiptData)
	req.UserID = strings.TrimSpace(req.UserID)
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("user_id", req.UserID))

	resp, err := s.verifier.Verify(ctx, req.ReceiptData)
	if err != nil {
		log.Warn("receipt verification request failed", zap.Error(err))
		return nil, domain.ErrStoreUnreachable
	}
	if verr := domain.ClassifyStatus(resp.Status); verr != nil {
		log.Info("receipt rejected by store", zap.Int("status", resp.Status), zap.Bool("should_retry", verr.ShouldRetry))
		return nil, verr
	}
	if resp.Receipt.BundleID != s.bundleID {
		log.Warn("receipt bundle mismatch", zap.String("bundle_id", resp.Receipt.BundleID))
		return nil, domain.ErrBundleMismatch
	}

	now := s.clock.Now(ctx)
	entry, ok := domain.ActiveEntry(resp.Entries(), now)
	if !ok {
		return nil, domain.ErrNoActiveSubscription
	}
	if strings.TrimSpace(entry.TransactionID) == "" {
		return nil, domain.ErrMissingTransaction
	}

	product, known := catalogdomain.LookupAppleProduct(entry.ProductID)
	if !known {
		log.Warn("unmapped product id, using premium", zap.String("product_id", entry.ProductID))
	}

	environment := resp.Environment
	if environment == "" {
		environment = "Production"
	}
	sub := domain.Subscription{
		Tier:                  product.Tier,
		ProductID:             entry.ProductID,
		TransactionID:         entry.TransactionID,
		OriginalTransactionID: entry.OriginalTransactionID,
		PurchaseDate:          entry.PurchaseDate(),
		ExpirationDate:        entry.ExpiresDate(),
		Environment:           environment,
	}

	key := idempotencydomain.AppleTransaction(entry.TransactionID)
	processed, err := s.ledger.HasProcessed(ctx, key)
	if err != nil {
		return nil, err
	}
	if processed {
		log.Info("receipt transaction already processed", zap.String("transaction_id", entry.TransactionID))
		return &domain.Result{AlreadyProcessed: true, Subscription: sub}, nil
	}

	if err := s.audit(ctx, req, sub); err != nil {
		return nil, err
	}

	if err := s.applyEntitlement(ctx, req.UserID, sub, product.Cycle); err != nil {
		log.Error("receipt audited but entitlement not applied",
			zap.String("transaction_id", entry.TransactionID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrEntitlementNotApplied, err)
	}

	raw, err := json.Marshal(sub)
	if err != nil {
		log.Warn("failed to encode ledger payload", zap.Error(err))
		raw = nil
	}
	if _, err := s.ledger.MarkProcessed(ctx, key, ledgerEventType, raw); err != nil {
		log.Error("failed to record processed receipt", zap.Error(err))
	}

	return &domain.Result{Subscription: sub}, nil
}

func (s *Service) AuditedReceipt(ctx context.Context, transactionID string) (*domain.AuditedReceipt, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, domain.ErrMissingTransaction
	}
	tx, err := s.repo.FindByTransactionID(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, nil
	}
	plain, err := s.vault.Decrypt(tx.EncryptedReceipt)
	if err != nil {
		return nil, fmt.Errorf("decrypt receipt %s: %w", transactionID, err)
	}
	return &domain.AuditedReceipt{Transaction: *tx, ReceiptData: string(plain)}, nil
}

func (s *Service) checkRequest(req domain.Request) error {
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 && fieldErrs[0].Field() == "ReceiptData" {
			return domain.ErrMissingReceipt
		}
		return domain.ErrMissingUser
	}

	// Standard base64 has no dots; three dot-separated segments is a JWS.
	if parts := strings.Split(req.ReceiptData, "."); len(parts) == 3 {
		return domain.ErrSignedTransaction
	}

	decoded, err := base64.StdEncoding.DecodeString(req.ReceiptData)
	if err != nil {
		return domain.ErrInvalidEncoding
	}
	if len(decoded) < minReceiptBytes {
		return domain.ErrReceiptTooShort
	}
	return nil
}

func (s *Service) audit(ctx context.Context, req domain.Request, sub domain.Subscription) error {
	sealed, err := s.vault.Encrypt([]byte(req.ReceiptData))
	if err != nil {
		return err
	}

	inserted, err := s.repo.Insert(ctx, s.db, &domain.ReceiptTransaction{
		ID:                    s.genID.Generate(),
		UserID:                req.UserID,
		TransactionID:         sub.TransactionID,
		OriginalTransactionID: sub.OriginalTransactionID,
		ProductID:             sub.ProductID,
		Environment:           sub.Environment,
		PurchasedAt:           sub.PurchaseDate,
		ExpiresAt:             sub.ExpirationDate,
		EncryptedReceipt:      sealed,
		CreatedAt:             s.clock.Now(ctx),
	})
	if err != nil {
		return err
	}
	if !inserted {
		// A previous attempt stopped after the audit write.
		s.log.Info("receipt already audited, reapplying entitlement", zap.String("transaction_id", sub.TransactionID))
	}
	return nil
}

func (s *Service) applyEntitlement(ctx context.Context, userID string, sub domain.Subscription, cycle catalogdomain.BillingCycle) error {
	tierID, err := s.catalog.TierIDByName(ctx, sub.Tier)
	if err != nil {
		return err
	}
	freeID, err := s.catalog.TierIDByName(ctx, catalogdomain.TierFree)
	if err != nil {
		return err
	}

	linkage := sub.OriginalTransactionID
	if linkage == "" {
		linkage = sub.TransactionID
	}
	provider := subscriptiondomain.ProviderApple
	start, end := sub.PurchaseDate, sub.ExpirationDate
	cancelFlag := false
	update := subscriptiondomain.EntitlementUpdate{
		TierID: tierID,
		Status: subscriptiondomain.StatusActive,
		Changes: subscriptiondomain.Changes{
			Provider:               &provider,
			ProviderSubscriptionID: &linkage,
			BillingCycle:           &cycle,
			CurrentPeriodStart:     &start,
			CurrentPeriodEnd:       &end,
			CancelAtPeriodEnd:      &cancelFlag,
		},
	}

	now := s.clock.Now(ctx)
	existing, err := s.subRepo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return err
	}

	if existing == nil {
		record := subscriptiondomain.SubscriptionRecord{
			ID:        s.genID.Generate(),
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
		}.Apply(update)
		if err := record.Validate(freeID); err != nil {
			return err
		}
		if err := s.subRepo.Upsert(ctx, s.db, &record); err != nil {
			return err
		}
	} else {
		projected := existing.Apply(update)
		if err := projected.Validate(freeID); err != nil {
			return err
		}
		updated, err := s.subRepo.SetEntitlement(ctx, s.db, userID, update, now)
		if err != nil {
			return err
		}
		if !updated {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
	}

	s.metrics.SubscriptionTransition(string(subscriptiondomain.StatusActive), string(provider))
	return nil
}
