package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	TierFree    = "free"
	TierPremium = "premium"
)

// Tier is an entitlement level. Rows are seeded out of band and are
// read-only to reconciliation.
type Tier struct {
	ID                    snowflake.ID   `json:"id" gorm:"primaryKey"`
	Name                  string         `json:"name" gorm:"type:varchar(50);not null;uniqueIndex"`
	MonthlyPrice          int64          `json:"monthly_price" gorm:"not null;default:0"`
	AnnualPrice           int64          `json:"annual_price" gorm:"not null;default:0"`
	Currency              string         `json:"currency" gorm:"type:varchar(3);not null;default:'USD'"`
	SubscriptionItemLimit int            `json:"subscription_item_limit" gorm:"not null;default:0"`
	Features              datatypes.JSON `json:"features" gorm:"type:json"`
	IsActive              bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt             time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time      `json:"updated_at" gorm:"not null"`
}

func (Tier) TableName() string { return "tiers" }
