package domain

import (
	"github.com/shopspring/decimal" // Precise per-token prices
)

// AIPrice Model
//
// Reference pricing for one (provider, model) pair. Read-heavy,
// admin-maintained; a single active row exists per pair.
type AIPrice struct {
	ID               uint            `gorm:"primaryKey"`                              // Primary key
	Provider         string          `gorm:"not null;uniqueIndex:idx_provider_model"` // AI provider, e.g. openai
	Model            string          `gorm:"not null;uniqueIndex:idx_provider_model"` // Model name, e.g. gpt-4o
	ModelType        string          `gorm:"default:chat"`                            // Model category
	InputTokenPrice  decimal.Decimal `gorm:"type:decimal(20,10);not null"`            // Price per input token
	OutputTokenPrice decimal.Decimal `gorm:"type:decimal(20,10);not null"`            // Price per output token
	MarkupRate       decimal.Decimal `gorm:"type:decimal(10,4);not null;default:1"`   // Multiplier applied on top of raw token cost
	IsActive         bool            `gorm:"not null;default:true"`                   // Inactive rows are ignored by lookups
}
