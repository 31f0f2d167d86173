package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subtrackhq/subtrack/internal/catalog/domain"
	"github.com/subtrackhq/subtrack/internal/catalog/repository"
	"github.com/subtrackhq/subtrack/internal/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Tier{}))

	cfg := config.Config{Billing: config.BillingConfig{
		PriceIDMonthly: "price_m",
		PriceIDYearly:  "price_y",
	}}
	svc := New(Params{DB: db, Log: zap.NewNop(), Cfg: cfg, Repo: repository.Provide()}).(*Service)
	return svc, db
}

func TestTierIDByNameCachesLookups(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	now := time.Now().UTC()

	premium := domain.Tier{ID: node.Generate(), Name: domain.TierPremium, MonthlyPrice: 499, Currency: "USD", IsActive: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.Create(&premium).Error)

	id, err := svc.TierIDByName(ctx, "Premium")
	require.NoError(t, err)
	assert.Equal(t, premium.ID, id)

	// Served from the cache once loaded.
	require.NoError(t, db.Exec(`DELETE FROM tiers`).Error)
	id, err = svc.TierIDByName(ctx, domain.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, premium.ID, id)

	_, err = svc.TierIDByName(ctx, domain.TierFree)
	assert.ErrorIs(t, err, domain.ErrTierNotFound)
}

func TestTierByID(t *testing.T) {
	svc, db := newTestService(t)
	node, _ := snowflake.NewNode(1)
	now := time.Now().UTC()

	free := domain.Tier{ID: node.Generate(), Name: domain.TierFree, Currency: "USD", IsActive: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.Create(&free).Error)

	got, err := svc.TierByID(context.Background(), free.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, got.Name)

	_, err = svc.TierByID(context.Background(), node.Generate())
	assert.ErrorIs(t, err, domain.ErrTierNotFound)
}

func TestPriceMapping(t *testing.T) {
	svc, _ := newTestService(t)

	price, err := svc.PriceIDForCycle(domain.BillingCycleYearly)
	require.NoError(t, err)
	assert.Equal(t, "price_y", price)

	_, err = svc.PriceIDForCycle("weekly")
	assert.ErrorIs(t, err, domain.ErrInvalidBillingCycle)

	cycle, ok := svc.CycleForPriceID("price_m")
	require.True(t, ok)
	assert.Equal(t, domain.BillingCycleMonthly, cycle)

	_, ok = svc.CycleForPriceID("price_other")
	assert.False(t, ok)

	svc.priceYearly = ""
	_, err = svc.PriceIDForCycle(domain.BillingCycleYearly)
	assert.ErrorIs(t, err, domain.ErrPriceNotConfigured)
}
