package api

import (
	"credit_system/internal/domain"       // Importing domain models
	"credit_system/internal/pricing"      // Price catalog invalidation hook
	"credit_system/internal/subscription" // Manual refill sweep
	"net/http"                            // HTTP status codes

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Precise price parsing
	"github.com/sirupsen/logrus"    // Logging library
	"gorm.io/gorm"                  // GORM ORM library
)

// UpsertPriceRequest represents an administrative price update
type UpsertPriceRequest struct {
	Provider         string `json:"provider" binding:"required"`           // AI provider
	Model            string `json:"model" binding:"required"`              // Model name
	ModelType        string `json:"model_type"`                            // Model category
	InputTokenPrice  string `json:"input_token_price" binding:"required"`  // Price per input token
	OutputTokenPrice string `json:"output_token_price" binding:"required"` // Price per output token
	MarkupRate       string `json:"markup_rate" binding:"required"`        // Markup multiplier
	IsActive         *bool  `json:"is_active"`                             // Defaults to true
}

// UpsertPriceHandler creates or updates a price row and invalidates its
// cache entry so the catalog serves the new price immediately
func UpsertPriceHandler(db *gorm.DB, catalog *pricing.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpsertPriceRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		inputPrice, err := decimal.NewFromString(req.InputTokenPrice)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input token price"})
			return
		}
		outputPrice, err := decimal.NewFromString(req.OutputTokenPrice)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid output token price"})
			return
		}
		markup, err := decimal.NewFromString(req.MarkupRate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid markup rate"})
			return
		}
		isActive := true
		if req.IsActive != nil {
			isActive = *req.IsActive
		}
		modelType := req.ModelType
		if modelType == "" {
			modelType = "chat"
		}
		// Upsert the price row keyed by (provider, model)
		var price domain.AIPrice
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("provider = ? AND model = ?", req.Provider, req.Model).
				FirstOrCreate(&price, domain.AIPrice{Provider: req.Provider, Model: req.Model}).Error; err != nil {
				return err
			}
			return tx.Model(&price).Updates(map[string]any{
				"model_type":         modelType,
				"input_token_price":  inputPrice,
				"output_token_price": outputPrice,
				"markup_rate":        markup,
				"is_active":          isActive,
			}).Error
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save price"})
			return
		}
		// Drop the stale cached row; the next lookup repopulates it
		_ = catalog.InvalidatePrice(c.Request.Context(), req.Provider, req.Model)
		logrus.WithFields(logrus.Fields{
			"provider": req.Provider, // AI provider
			"model":    req.Model,    // Model name
		}).Info("Price updated") // Log price update
		c.JSON(http.StatusOK, gin.H{"price": price})
	}
}

// RunRefillsHandler runs one manual refill sweep across active subscriptions
func RunRefillsHandler(m *subscription.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		refilled, err := m.RunRefills(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Refill sweep failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"refilled": refilled})
	}
}
