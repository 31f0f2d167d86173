package seed

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	catalogdomain "github.com/subtrackhq/subtrack/internal/catalog/domain"
	catalogrepository "github.com/subtrackhq/subtrack/internal/catalog/repository"
	"gorm.io/gorm"
)

func TestEnsureTiersIsRepeatable(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&catalogdomain.Tier{}))

	require.NoError(t, EnsureTiers(db))

	repo := catalogrepository.Provide()
	premium, err := repo.FindByName(context.Background(), db, catalogdomain.TierPremium)
	require.NoError(t, err)
	require.NotNil(t, premium)
	assert.Equal(t, int64(499), premium.MonthlyPrice)

	require.NoError(t, EnsureTiers(db))

	var count int64
	require.NoError(t, db.Model(&catalogdomain.Tier{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	again, err := repo.FindByName(context.Background(), db, catalogdomain.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, premium.ID, again.ID)
}

func TestEnsureTiersRequiresDB(t *testing.T) {
	assert.Error(t, EnsureTiers(nil))
}
