package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	TierIDByName(ctx context.Context, name string) (snowflake.ID, error)
	TierByID(ctx context.Context, id snowflake.ID) (*Tier, error)
	PriceIDForCycle(cycle BillingCycle) (string, error)
	CycleForPriceID(priceID string) (BillingCycle, bool)
}

var (
	ErrTierNotFound        = errors.New("tier_not_found")
	ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")
	ErrPriceNotConfigured  = errors.New("price_not_configured")
)
