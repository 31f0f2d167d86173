package seed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/subtrackhq/subtrack/internal/catalog/domain"
	catalogrepository "github.com/subtrackhq/subtrack/internal/catalog/repository"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type tierSeed struct {
	name         string
	monthlyPrice int64
	annualPrice  int64
	itemLimit    int
	features     []string
}

var defaultTiers = []tierSeed{
	{
		name:      catalogdomain.TierFree,
		itemLimit: 5,
		features:  []string{"basic_tracking"},
	},
	{
		name:         catalogdomain.TierPremium,
		monthlyPrice: 499,
		annualPrice:  3999,
		features:     []string{"basic_tracking", "unlimited_items", "analytics", "export"},
	},
}

// EnsureTiers seeds the free and premium tier rows. Existing rows are
// refreshed in place and keep their ids.
func EnsureTiers(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	repo := catalogrepository.Provide()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range defaultTiers {
			if err := ensureTierTx(ctx, tx, repo, node, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensureTierTx(ctx context.Context, tx *gorm.DB, repo catalogdomain.Repository, node *snowflake.Node, item tierSeed) error {
	features, err := json.Marshal(item.features)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	tier := &catalogdomain.Tier{
		ID:                    node.Generate(),
		Name:                  item.name,
		MonthlyPrice:          item.monthlyPrice,
		AnnualPrice:           item.annualPrice,
		Currency:              "USD",
		SubscriptionItemLimit: item.itemLimit,
		Features:              datatypes.JSON(features),
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	return repo.Upsert(ctx, tx, tier)
}
