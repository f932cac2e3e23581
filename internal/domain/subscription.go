package domain

import (
	"time" // Timestamps
)

// Subscription statuses
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
)

// Subscription Model
//
// At most one row with status=active exists per user at any time. Rows are
// never physically deleted; cancel and expiry are soft transitions.
type Subscription struct {
	ID                 uint       `gorm:"primaryKey"`       // Primary key
	UserID             uint       `gorm:"index;not null"`   // Foreign key to User
	PlanID             uint       `gorm:"not null"`         // Foreign key to SubscriptionPlan
	WalletID           uint       `gorm:"not null"`         // The user's wallet, credited by refills
	Status             string     `gorm:"size:16;not null"` // active, canceled or expired
	CurrentPeriodStart time.Time  `gorm:"not null"`         // Start of the current billing period
	CurrentPeriodEnd   time.Time  `gorm:"not null"`         // End of the current billing period
	LastRefillAt       time.Time  `gorm:"not null"`         // When the wallet was last refilled
	CanceledAt         *time.Time // Set when the subscription is canceled
	CreatedAt          time.Time  // Timestamp of creation
	UpdatedAt          time.Time  // Timestamp of last update
}
