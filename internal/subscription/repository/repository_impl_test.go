package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	catalogdomain "github.com/subtrackhq/subtrack/internal/catalog/domain"
	"github.com/subtrackhq/subtrack/internal/subscription/domain"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.SubscriptionRecord{}))
	return db
}

func TestUpsertKeepsOneRowPerUser(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	now := time.Now().UTC().Truncate(time.Second)

	first := &domain.SubscriptionRecord{
		ID:                     node.Generate(),
		UserID:                 "user_1",
		TierID:                 1,
		Status:                 domain.StatusTrialing,
		Provider:               domain.ProviderStripe,
		ProviderSubscriptionID: domain.StringPtr("sub_1"),
		BillingCycle:           catalogdomain.BillingCycleMonthly,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	require.NoError(t, repo.Upsert(ctx, db, first))

	second := *first
	second.ID = node.Generate()
	second.Status = domain.StatusActive
	second.TierID = 2
	second.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, repo.Upsert(ctx, db, &second))

	var count int64
	require.NoError(t, db.Model(&domain.SubscriptionRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := repo.FindByProviderSubscriptionID(ctx, db, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, snowflake.ID(2), got.TierID)

	missing, err := repo.FindByUserID(ctx, db, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSetEntitlementOverwritesTierAndStatus(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.Upsert(ctx, db, &domain.SubscriptionRecord{
		ID:                 node.Generate(),
		UserID:             "user_1",
		TierID:             1,
		Status:             domain.StatusTrialing,
		ProviderCustomerID: domain.StringPtr("cus_1"),
		CreatedAt:          now,
		UpdatedAt:          now,
	}))

	provider := domain.ProviderStripe
	updated, err := repo.SetEntitlement(ctx, db, "user_1", domain.EntitlementUpdate{
		TierID:  2,
		Status:  domain.StatusActive,
		Changes: domain.Changes{Provider: &provider, ProviderSubscriptionID: domain.StringPtr("sub_9")},
	}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := repo.FindByProviderCustomerID(ctx, db, "cus_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snowflake.ID(2), got.TierID)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, "sub_9", domain.StringValue(got.ProviderSubscriptionID))
	assert.Equal(t, domain.ProviderStripe, got.Provider)

	// Guarded update does not fire when the status moved on.
	updated, err = repo.SetEntitlement(ctx, db, "user_1", domain.EntitlementUpdate{
		TierID:   1,
		Status:   domain.StatusCanceled,
		IfStatus: domain.StatusGracePeriod,
	}, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestUpdateProviderStateLeavesTier(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.Upsert(ctx, db, &domain.SubscriptionRecord{
		ID:        node.Generate(),
		UserID:    "user_1",
		TierID:    2,
		Status:    domain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	cancel := true
	end := now.Add(30 * 24 * time.Hour)
	updated, err := repo.UpdateProviderState(ctx, db, "user_1", domain.StatusPastDue, domain.Changes{
		CancelAtPeriodEnd: &cancel,
		CurrentPeriodEnd:  &end,
	}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := repo.FindByUserID(ctx, db, "user_1")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(2), got.TierID)
	assert.Equal(t, domain.StatusPastDue, got.Status)
	assert.True(t, got.CancelAtPeriodEnd)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.True(t, end.Equal(*got.CurrentPeriodEnd))
}

func TestListExpiredGrace(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, status := range []domain.Status{domain.StatusGracePeriod, domain.StatusGracePeriod, domain.StatusActive} {
		updatedAt := base.Add(time.Duration(i) * 10 * 24 * time.Hour)
		require.NoError(t, repo.Upsert(ctx, db, &domain.SubscriptionRecord{
			ID:        node.Generate(),
			UserID:    "user_" + string(rune('a'+i)),
			TierID:    2,
			Status:    status,
			CreatedAt: updatedAt,
			UpdatedAt: updatedAt,
		}))
	}

	items, err := repo.ListExpiredGrace(ctx, db, base.Add(5*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "user_a", items[0].UserID)
}
