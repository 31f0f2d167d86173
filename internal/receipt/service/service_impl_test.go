package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	catalogdomain "github.com/subtrackhq/subtrack/internal/catalog/domain"
	catalogrepository "github.com/subtrackhq/subtrack/internal/catalog/repository"
	catalogservice "github.com/subtrackhq/subtrack/internal/catalog/service"
	"github.com/subtrackhq/subtrack/internal/clock"
	"github.com/subtrackhq/subtrack/internal/config"
	idempotencydomain "github.com/subtrackhq/subtrack/internal/idempotency/domain"
	idempotencyrepository "github.com/subtrackhq/subtrack/internal/idempotency/repository"
	idempotencyservice "github.com/subtrackhq/subtrack/internal/idempotency/service"
	"github.com/subtrackhq/subtrack/internal/receipt/domain"
	"github.com/subtrackhq/subtrack/internal/receipt/repository"
	"github.com/subtrackhq/subtrack/internal/security/vault"
	"github.com/subtrackhq/subtrack/internal/seed"
	subscriptiondomain "github.com/subtrackhq/subtrack/internal/subscription/domain"
	subscriptionrepository "github.com/subtrackhq/subtrack/internal/subscription/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const bundleID = "com.subtrack.app"

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, receiptData string) (*domain.VerifyResponse, error) {
	args := m.Called(ctx, receiptData)
	resp, _ := args.Get(0).(*domain.VerifyResponse)
	return resp, args.Error(1)
}

// brokenRecords fails every subscription record write.
type brokenRecords struct {
	subscriptiondomain.Repository
}

func (brokenRecords) Upsert(context.Context, *gorm.DB, *subscriptiondomain.SubscriptionRecord) error {
	return errors.New("connection reset")
}

type fixture struct {
	db       *gorm.DB
	verifier *MockVerifier
	vault    vault.Provider
	ledger   idempotencydomain.Ledger
	catalog  catalogdomain.Service
	subRepo  subscriptiondomain.Repository
	params   Params
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&catalogdomain.Tier{},
		&subscriptiondomain.SubscriptionRecord{},
		&domain.ReceiptTransaction{},
		&idempotencydomain.ProcessedEvent{},
	))
	require.NoError(t, seed.EnsureTiers(db))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	v, err := vault.NewFactory(vault.Config{AESKey: "test-key"})
	require.NoError(t, err)

	log := zap.NewNop()
	fake := clock.NewFake(testNow)
	cfg := config.Config{Billing: config.BillingConfig{AppleBundleID: bundleID}}
	catalog := catalogservice.New(catalogservice.Params{DB: db, Log: log, Cfg: cfg, Repo: catalogrepository.Provide()})
	ledger := idempotencyservice.NewLedger(idempotencyservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: idempotencyrepository.Provide(),
	})
	subRepo := subscriptionrepository.Provide()
	verifier := &MockVerifier{}

	return &fixture{
		db:       db,
		verifier: verifier,
		vault:    v,
		ledger:   ledger,
		catalog:  catalog,
		subRepo:  subRepo,
		params: Params{
			DB:       db,
			Log:      log,
			GenID:    node,
			Clock:    fake,
			Cfg:      cfg,
			Verifier: verifier,
			Repo:     repository.Provide(),
			SubRepo:  subRepo,
			Catalog:  catalog,
			Ledger:   ledger,
			Vault:    v,
		},
	}
}

func (f *fixture) service() domain.Service {
	return NewService(f.params)
}

func receiptBlob() string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("pkcs7"), 20))
}

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func okResponse(entries ...domain.PurchaseEntry) *domain.VerifyResponse {
	return &domain.VerifyResponse{
		Status:            domain.StatusOK,
		Environment:       "Sandbox",
		Receipt:           domain.ReceiptBody{BundleID: bundleID},
		LatestReceiptInfo: entries,
	}
}

func activeEntry() domain.PurchaseEntry {
	return domain.PurchaseEntry{
		ProductID:             "subtrack.premium.yearly",
		TransactionID:         "2000000002",
		OriginalTransactionID: "2000000001",
		PurchaseDateMs:        ms(testNow.Add(-time.Hour)),
		ExpiresDateMs:         ms(testNow.Add(365 * 24 * time.Hour)),
	}
}

func (f *fixture) auditCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&domain.ReceiptTransaction{}).Count(&n).Error)
	return n
}

func TestValidateAppliesPremium(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := receiptBlob()
	f.verifier.On("Verify", mock.Anything, blob).Return(okResponse(activeEntry()), nil).Once()

	res, err := f.service().Validate(ctx, domain.Request{ReceiptData: blob, UserID: "user_1"})
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, catalogdomain.TierPremium, res.Subscription.Tier)
	assert.Equal(t, "2000000002", res.Subscription.TransactionID)
	assert.Equal(t, "Sandbox", res.Subscription.Environment)

	rec, err := f.subRepo.FindByUserID(ctx, f.db, "user_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	premiumID, err := f.catalog.TierIDByName(ctx, catalogdomain.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, premiumID, rec.TierID)
	assert.Equal(t, subscriptiondomain.StatusActive, rec.Status)
	assert.Equal(t, subscriptiondomain.ProviderApple, rec.Provider)
	assert.Equal(t, "2000000001", subscriptiondomain.StringValue(rec.ProviderSubscriptionID))
	assert.Equal(t, catalogdomain.BillingCycleYearly, rec.BillingCycle)
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.Equal(t, testNow.Add(365*24*time.Hour).Unix(), rec.CurrentPeriodEnd.Unix())

	audit, err := repository.Provide().FindByTransactionID(ctx, f.db, "2000000002")
	require.NoError(t, err)
	require.NotNil(t, audit)
	assert.NotContains(t, string(audit.EncryptedReceipt), blob)
	plain, err := f.vault.Decrypt(audit.EncryptedReceipt)
	require.NoError(t, err)
	assert.Equal(t, blob, string(plain))

	processed, err := f.ledger.HasProcessed(ctx, idempotencydomain.AppleTransaction("2000000002"))
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestValidateReplayReportsAlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := receiptBlob()
	f.verifier.On("Verify", mock.Anything, blob).Return(okResponse(activeEntry()), nil).Twice()
	svc := f.service()

	_, err := svc.Validate(ctx, domain.Request{ReceiptData: blob, UserID: "user_1"})
	require.NoError(t, err)

	res, err := svc.Validate(ctx, domain.Request{ReceiptData: blob, UserID: "user_1"})
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, "2000000002", res.Subscription.TransactionID)
	assert.Equal(t, int64(1), f.auditCount(t))
	f.verifier.AssertExpectations(t)
}

func TestValidateRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	cases := []struct {
		req  domain.Request
		want error
	}{
		{domain.Request{UserID: "user_1"}, domain.ErrMissingReceipt},
		{domain.Request{ReceiptData: receiptBlob()}, domain.ErrMissingUser},
		{domain.Request{ReceiptData: "eyJhbGciOiJFUzI1NiJ9.eyJ0cmFuc2FjdGlvbklkIjoiMSJ9.c2ln", UserID: "user_1"}, domain.ErrSignedTransaction},
		{domain.Request{ReceiptData: "not base64 at all!", UserID: "user_1"}, domain.ErrInvalidEncoding},
		{domain.Request{ReceiptData: "c2hvcnQ=", UserID: "user_1"}, domain.ErrReceiptTooShort},
	}
	for _, tc := range cases {
		_, err := svc.Validate(ctx, tc.req)
		assert.ErrorIs(t, err, tc.want)
	}
	f.verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestValidateMapsStoreStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := receiptBlob()
	f.verifier.On("Verify", mock.Anything, blob).Return(&domain.VerifyResponse{Status: domain.StatusServerUnavailable}, nil).Once()
	f.verifier.On("Verify", mock.Anything, blob).Return(&domain.VerifyResponse{Status: domain.StatusSubscriptionExpired}, nil).Once()
	svc := f.service()

	_, err := svc.Validate(ctx, domain.Request{ReceiptData: blob, UserID: "user_1"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.ShouldRetry)
	assert.Equal(t, domain.StatusServerUnavailable, verr.Status)

	_, err = svc.Validate(ctx, domain.Request{ReceiptData: blob, UserID: "user_1"})
	require.ErrorAs(t, err, &verr)
	assert.False(t, verr.ShouldRetry)
	assert.Equal(t, domain.StatusSubscriptionExpired, verr.Status)
	assert.Equal(t, int64(0), f.auditCount(t))
}

func TestValidateTransportFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	blob := receiptBlob()
	f.verifier.On("Verify", mock.Anything, blob).Return(nil, errors.New("dial tcp: timeout")).Once()

	_, err := f.service().Validate(context.Background(), domain.Request{ReceiptData: blob, UserID: "user_1"})
	assert.ErrorIs(t, err, domain.ErrStoreUnreachable)
}

func TestValidateRejectsBundleMismatch(t *testing.T) {
	f := newFixture(t)
	blob := receiptBlob()
	resp := okResponse(activeEntry())
	resp.Receipt.BundleID = "com.other.app"
	f.verifier.On("Verify", mock.Anything, blob).Return(resp, nil).Once()

	_, err := f.service().Validate(context.Background(), domain.Request{ReceiptData: blob, UserID: "user_1"})
	assert.ErrorIs(t, err, domain.ErrBundleMismatch)
	assert.Equal(t, int64(0), f.auditCount(t))
}

func TestValidateRequiresActiveEntry(t *testing.T) {
	f := newFixture(t)
	blob := receiptBlob()
	expired := activeEntry()
	expired.ExpiresDateMs = ms(testNow.Add(-time.Minute))
	f.verifier.On("Verify", mock.Anything, blob).Return(okResponse(expired), nil).Once()

	_, err := f.service().Validate(context.Background(), domain.Request{ReceiptData: blob, UserID: "user_1"})
	assert.ErrorIs(t, err, domain.ErrNoActiveSubscription)
}

func TestValidateUnknownProductFallsBackToPremium(t *testing.T) {
	f := newFixture(t)
	blob := receiptBlob()
	entry := activeEntry()
	entry.ProductID = "subtrack.pro.annual.v2"
	f.verifier.On("Verify", mock.Anything, blob).Return(okResponse(entry), nil).Once()

	res, err := f.service().Validate(context.Background(), domain.Request{ReceiptData: blob, UserID: "user_1"})
	require.NoError(t, err)
	assert.Equal(t, catalogdomain.TierPremium, res.Subscription.Tier)

	rec, err := f.subRepo.FindByUserID(context.Background(), f.db, "user_1")
	require.NoError(t, err)
	assert.Equal(t, catalogdomain.BillingCycleYearly, rec.BillingCycle)
}

func TestValidateKeepsAuditWhenRecordWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := receiptBlob()
	f.verifier.On("Verify", mock.Anything, blob).Return(okResponse(activeEntry()), nil)

	f.params.SubRepo = brokenRecords{Repository: f.subRepo}
	_, err := f.service().Validate(ctx, domain.Request{ReceiptData: blob, UserID: "user_1"})
	assert.ErrorIs(t, err, domain.ErrEntitlementNotApplied)
	assert.Equal(t, int64(1), f.auditCount(t))

	processed, err := f.ledger.HasProcessed(ctx, idempotencydomain.AppleTransaction("2000000002"))
	require.NoError(t, err)
	assert.False(t, processed)

	// A retry after the store recovers grants entitlement without a second audit row.
	f.params.SubRepo = f.subRepo
	res, err := f.service().Validate(ctx, domain.Request{ReceiptData: blob, UserID: "user_1"})
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, int64(1), f.auditCount(t))

	rec, err := f.subRepo.FindByUserID(ctx, f.db, "user_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, subscriptiondomain.StatusActive, rec.Status)
}

func TestValidateOverwritesExistingRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	freeID, err := f.catalog.TierIDByName(ctx, catalogdomain.TierFree)
	require.NoError(t, err)
	require.NoError(t, f.subRepo.Upsert(ctx, f.db, &subscriptiondomain.SubscriptionRecord{
		ID:        9,
		UserID:    "user_1",
		TierID:    freeID,
		Status:    subscriptiondomain.StatusCanceled,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}))

	blob := receiptBlob()
	f.verifier.On("Verify", mock.Anything, blob).Return(okResponse(activeEntry()), nil).Once()
	_, err = f.service().Validate(ctx, domain.Request{ReceiptData: blob, UserID: "user_1"})
	require.NoError(t, err)

	rec, err := f.subRepo.FindByUserID(ctx, f.db, "user_1")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(9), rec.ID)
	assert.Equal(t, subscriptiondomain.StatusActive, rec.Status)
	assert.Equal(t, subscriptiondomain.ProviderApple, rec.Provider)
}

func TestValidateReplayAfterRetentionPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := receiptBlob()
	f.verifier.On("Verify", mock.Anything, blob).Return(okResponse(activeEntry()), nil).Twice()
	svc := f.service()

	_, err := svc.Validate(ctx, domain.Request{ReceiptData: blob, UserID: "user_1"})
	require.NoError(t, err)

	fake := f.params.Clock.(*clock.Fake)
	fake.Advance(91 * 24 * time.Hour)
	_, err = f.ledger.PurgeBefore(ctx, fake.Now(ctx).AddDate(0, 0, -90))
	require.NoError(t, err)

	res, err := svc.Validate(ctx, domain.Request{ReceiptData: blob, UserID: "user_1"})
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, int64(1), f.auditCount(t))
}

func TestAuditedReceiptDecryptsStoredBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := receiptBlob()
	f.verifier.On("Verify", mock.Anything, blob).Return(okResponse(activeEntry()), nil).Once()
	svc := f.service()

	_, err := svc.Validate(ctx, domain.Request{ReceiptData: blob, UserID: "user_1"})
	require.NoError(t, err)

	audited, err := svc.AuditedReceipt(ctx, "2000000002")
	require.NoError(t, err)
	require.NotNil(t, audited)
	assert.Equal(t, blob, audited.ReceiptData)
	assert.Equal(t, "user_1", audited.Transaction.UserID)
	assert.Equal(t, "subtrack.premium.yearly", audited.Transaction.ProductID)

	missing, err := svc.AuditedReceipt(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = svc.AuditedReceipt(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrMissingTransaction)
}
