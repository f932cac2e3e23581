package pricing

import (
	"context"                       // Context for cache operations
	"credit_system/internal/cache"  // Cache abstraction
	"credit_system/internal/domain" // Importing domain models
	"encoding/json"                 // JSON encoding for cached rows
	"errors"                        // Sentinel errors

	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// ErrPriceNotFound is returned when no active price row exists for a
// (provider, model) pair.
var ErrPriceNotFound = errors.New("price not found")

// Catalog resolves (provider, model) pairs to token pricing. Reads are
// cache-aside: price rows are long-lived reference data and are cached
// without expiry; invalidation is explicit after admin updates.
type Catalog struct {
	db    *gorm.DB    // Durable store
	cache cache.Cache // Read-through cache
}

// NewCatalog creates a price catalog over the given store and cache.
func NewCatalog(db *gorm.DB, c cache.Cache) *Catalog {
	return &Catalog{db: db, cache: c}
}

// GetAIPrice returns the single active price row for (provider, model).
// Cache errors are swallowed: a cache outage degrades to store-only reads.
func (c *Catalog) GetAIPrice(ctx context.Context, provider, model string) (*domain.AIPrice, error) {
	key := cache.PriceKey(provider, model)
	// Try cache first
	if val, found, err := c.cache.Get(ctx, key); err == nil && found {
		var price domain.AIPrice
		if err := json.Unmarshal([]byte(val), &price); err == nil {
			return &price, nil
		}
	}
	// Cache miss - fetch from database
	var price domain.AIPrice
	err := c.db.WithContext(ctx).
		Where("provider = ? AND model = ? AND is_active = ?", provider, model, true).
		First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPriceNotFound
	} else if err != nil {
		return nil, err
	}
	// Store in cache without expiry; reference data is invalidated explicitly
	if data, err := json.Marshal(&price); err == nil {
		if err := c.cache.Set(ctx, key, string(data), cache.NoExpiry); err != nil {
			logrus.WithFields(logrus.Fields{
				"provider": provider,
				"model":    model,
				"error":    err.Error(),
			}).Warn("Failed to cache price row")
		}
	}
	return &price, nil
}

// InvalidatePrice drops the cached row for (provider, model). Callers invoke
// it after any administrative price update.
func (c *Catalog) InvalidatePrice(ctx context.Context, provider, model string) error {
	return c.cache.Del(ctx, cache.PriceKey(provider, model))
}
