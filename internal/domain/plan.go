package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Precise monetary amounts
)

// SubscriptionPlan Model
//
// Catalog row describing a purchasable plan: its monthly quota and the
// periodic refill policy applied to subscribers' wallets.
type SubscriptionPlan struct {
	ID                  uint            `gorm:"primaryKey"`                  // Primary key
	Name                string          `gorm:"unique;not null"`             // Unique machine name, e.g. free
	DisplayName         string          `gorm:"not null"`                    // Human-readable name
	PriceUSD            decimal.Decimal `gorm:"type:decimal(20,6);not null"` // Monthly price in USD
	MonthlyQuota        decimal.Decimal `gorm:"type:decimal(20,6);not null"` // Credits granted when a period starts
	RefillAmount        decimal.Decimal `gorm:"type:decimal(20,6);not null"` // Credits added per refill
	RefillIntervalHours int             `gorm:"not null"`                    // Hours between refills
	MaxRefillBalance    decimal.Decimal `gorm:"type:decimal(20,6);not null"` // Refills never push balance above this
	RolloverEnabled     bool            `gorm:"not null;default:false"`      // Whether balance above the cap survives a refill
	IsActive            bool            `gorm:"not null;default:true"`       // Inactive plans cannot be subscribed to
	CreatedAt           time.Time       // Timestamp of creation
	UpdatedAt           time.Time       // Timestamp of last update
}
