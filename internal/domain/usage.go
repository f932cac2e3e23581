package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Precise monetary amounts
)

// Usage record kinds
const (
	UsageKindDeduction = "deduction" // Metered AI usage debit
	UsageKindCredit    = "credit"    // Purchase or subscription credit
)

// UsageRecord Model
//
// One row per successful balance mutation. The unique idempotency key is the
// durable duplicate-guard: its existence proves the mutation already happened,
// independent of the cache. NewBalance is recorded so a replayed request can
// observe exactly the original outcome.
type UsageRecord struct {
	ID             uint            `gorm:"primaryKey"`           // Primary key
	UsageID        string          `gorm:"size:36;uniqueIndex"`  // Public UUID of this record
	IdempotencyKey string          `gorm:"size:128;uniqueIndex"` // Caller-supplied duplicate guard
	WalletID       uint            `gorm:"index;not null"`       // Foreign key to Wallet
	UserID         uint            `gorm:"index;not null"`       // Owning user
	Kind           string          `gorm:"size:16;not null"`     // deduction or credit
	Provider       string          // AI provider (deductions only)
	Model          string          // Model name (deductions only)
	InputTokens    int64           // Metered input tokens
	OutputTokens   int64           // Metered output tokens
	Amount         decimal.Decimal `gorm:"type:decimal(20,6);not null"` // Cost debited or amount credited
	NewBalance     decimal.Decimal `gorm:"type:decimal(20,6);not null"` // Balance immediately after the mutation
	InvoiceID      string          // External invoice reference (credits only)
	CreatedAt      time.Time       // Timestamp of creation
}
