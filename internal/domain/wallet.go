package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Precise monetary amounts
)

// Wallet Model
//
// One wallet per user. Balance is stored as a fixed-point decimal and is
// never negative. Version is the optimistic-concurrency token: every
// successful balance mutation increments it by exactly 1.
type Wallet struct {
	ID        uint            `gorm:"primaryKey"`                  // Primary key
	UserID    uint            `gorm:"uniqueIndex;not null"`        // Foreign key to User (1:1)
	Balance   decimal.Decimal `gorm:"type:decimal(20,6);not null"` // Spendable balance
	Version   int64           `gorm:"not null;default:0"`          // Optimistic lock version
	CreatedAt time.Time       // Timestamp of creation
	UpdatedAt time.Time       // Timestamp of last update
}
