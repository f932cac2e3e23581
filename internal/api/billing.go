package api

import (
	"credit_system/internal/domain"  // Importing domain models
	"credit_system/internal/ledger"  // Wallet ledger
	"credit_system/internal/pricing" // Price catalog errors
	"errors"                         // Sentinel error matching
	"net/http"                       // HTTP status codes
	"strconv"                        // String conversion

	"github.com/gin-gonic/gin" // Gin web framework
	"gorm.io/gorm"             // GORM ORM library
)

// DeductRequest represents a metered usage debit request
type DeductRequest struct {
	Provider       string `json:"provider" binding:"required"`        // AI provider
	Model          string `json:"model" binding:"required"`           // Model name
	InputTokens    int64  `json:"input_tokens" binding:"gte=0"`       // Metered input tokens
	OutputTokens   int64  `json:"output_tokens" binding:"gte=0"`      // Metered output tokens
	IdempotencyKey string `json:"idempotency_key" binding:"required"` // Duplicate guard
}

// CreditRequest represents a purchase credit request
type CreditRequest struct {
	CreditAmount   string `json:"credit_amount" binding:"required"`   // Decimal amount as string
	InvoiceID      string `json:"invoice_id" binding:"required"`      // External invoice reference
	IdempotencyKey string `json:"idempotency_key" binding:"required"` // Duplicate guard
}

// callerID extracts the authenticated user id placed by the JWT middleware
func callerID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get("userID") // Get userID from context
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return 0, false
	}
	return userID.(uint), true
}

// GetWalletHandler returns the caller's wallet and balance, creating the
// wallet with a zero balance on first access
func GetWalletHandler(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerID(c)
		if !ok {
			return
		}
		wallet, err := l.GetOrCreateWallet(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load wallet"})
			return
		}
		balance, err := l.GetBalance(c.Request.Context(), wallet.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load balance"})
			return
		}
		// Return wallet info with the string-encoded balance
		c.JSON(http.StatusOK, gin.H{
			"wallet_id": wallet.ID,
			"balance":   balance.StringFixed(ledger.CostPrecision),
		})
	}
}

// DeductHandler debits the caller's wallet for one metered AI request
func DeductHandler(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerID(c)
		if !ok {
			return
		}
		var req DeductRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		wallet, err := l.GetOrCreateWallet(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load wallet"})
			return
		}
		res, err := l.DeductCredit(c.Request.Context(), ledger.DeductInput{
			WalletID:       wallet.ID,
			UserID:         userID,
			Provider:       req.Provider,
			Model:          req.Model,
			InputTokens:    req.InputTokens,
			OutputTokens:   req.OutputTokens,
			IdempotencyKey: req.IdempotencyKey,
		})
		// Map typed ledger failures to HTTP statuses
		switch {
		case errors.Is(err, pricing.ErrPriceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown provider or model"})
		case errors.Is(err, ledger.ErrWalletNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Wallet not found"})
		case errors.Is(err, ledger.ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient balance"})
		case errors.Is(err, ledger.ErrConcurrencyConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "Wallet busy, retry with the same idempotency key"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Deduction failed"})
		default:
			c.JSON(http.StatusOK, res)
		}
	}
}

// CreditHandler credits the caller's wallet for a purchase
func CreditHandler(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerID(c)
		if !ok {
			return
		}
		var req CreditRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		wallet, err := l.GetOrCreateWallet(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load wallet"})
			return
		}
		res, err := l.CreditPurchase(c.Request.Context(), ledger.CreditInput{
			WalletID:       wallet.ID,
			UserID:         userID,
			CreditAmount:   req.CreditAmount,
			InvoiceID:      req.InvoiceID,
			IdempotencyKey: req.IdempotencyKey,
		})
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		case errors.Is(err, ledger.ErrConcurrencyConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "Wallet busy, retry with the same idempotency key"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Credit failed"})
		default:
			c.JSON(http.StatusOK, res)
		}
	}
}

// GetUsageHistoryHandler returns paginated usage records for the caller's wallet
func GetUsageHistoryHandler(db *gorm.DB, l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerID(c)
		if !ok {
			return
		}
		wallet, err := l.GetOrCreateWallet(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load wallet"})
			return
		}
		page := 1      // Default page
		pageSize := 20 // Default page size
		// If page exists in query
		if p := c.Query("page"); p != "" {
			// Convert page to integer
			if v, err := strconv.Atoi(p); err == nil && v > 0 {
				page = v // Set page if valid
			}
		}
		// If page_size exists in query
		if ps := c.Query("page_size"); ps != "" {
			// Convert page_size to integer
			if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
				pageSize = v // Set page size if valid
			}
		}
		offset := (page - 1) * pageSize // Calculate offset
		var total int64                 // Total count of usage records
		// Count total records for pagination
		if err := db.Model(&domain.UsageRecord{}).
			Where("wallet_id = ?", wallet.ID).
			Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count usage"})
			return
		}
		var records []domain.UsageRecord // Slice to hold usage records
		// Fetch paginated records
		if err := db.Where("wallet_id = ?", wallet.ID).
			Order("created_at desc").
			Offset(offset).
			Limit(pageSize).
			Find(&records).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch usage"})
			return
		}
		// Calculate total pages
		totalPages := (int(total) + pageSize - 1) / pageSize
		c.JSON(http.StatusOK, gin.H{
			"usage":       records,    // List of usage records
			"page":        page,       // Current page
			"page_size":   pageSize,   // Page size
			"total":       total,      // Total records
			"total_pages": totalPages, // Total pages
		})
	}
}
