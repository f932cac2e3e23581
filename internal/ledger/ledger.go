package ledger

import (
	"context"                        // Context for store and cache operations
	"credit_system/internal/cache"   // Cache abstraction
	"credit_system/internal/domain"  // Importing domain models
	"credit_system/internal/pricing" // Price catalog
	"encoding/json"                  // JSON encoding for idempotency responses
	"errors"                         // Sentinel errors
	"time"                           // Log timestamps

	"github.com/google/uuid"        // Usage record ids
	"github.com/shopspring/decimal" // Precise monetary amounts
	"github.com/sirupsen/logrus"    // Logging library
	"gorm.io/gorm"                  // GORM ORM library
)

// CostPrecision is the ledger's fixed number of fractional digits. Costs are
// rounded to it and balances are formatted with it at package boundaries.
const CostPrecision = 6

// defaultMaxRetries bounds the optimistic-lock retry loop so contention can
// never spin unbounded.
const defaultMaxRetries = 5

// Typed failures surfaced by ledger operations.
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInvalidAmount       = errors.New("invalid credit amount")
)

// errStaleVersion triggers an internal retry when a concurrent writer won the
// version race. It never escapes the package.
var errStaleVersion = errors.New("stale wallet version")

// Ledger owns balance reads, atomic debits and credits, and idempotency
// bookkeeping for wallets. The store and cache are injected so tests can
// substitute fakes.
type Ledger struct {
	db         *gorm.DB         // Durable store
	cache      cache.Cache      // Advisory read-through cache
	catalog    *pricing.Catalog // Token price resolution
	maxRetries int              // Optimistic-lock retry ceiling
}

// New creates a Ledger over the given store, cache and price catalog.
func New(db *gorm.DB, c cache.Cache, catalog *pricing.Catalog) *Ledger {
	return &Ledger{db: db, cache: c, catalog: catalog, maxRetries: defaultMaxRetries}
}

// DeductInput describes one metered AI usage debit.
type DeductInput struct {
	WalletID       uint   `json:"wallet_id"`       // Wallet to debit
	UserID         uint   `json:"user_id"`         // Owning user
	Provider       string `json:"provider"`        // AI provider
	Model          string `json:"model"`           // Model name
	InputTokens    int64  `json:"input_tokens"`    // Metered input tokens
	OutputTokens   int64  `json:"output_tokens"`   // Metered output tokens
	IdempotencyKey string `json:"idempotency_key"` // Caller-supplied duplicate guard
}

// DeductResult is the recorded outcome of a debit. Amounts travel as strings
// to preserve precision across serialization boundaries.
type DeductResult struct {
	Success    bool   `json:"success"`     // Always true for recorded outcomes
	UsageID    string `json:"usage_id"`    // Public id of the usage record
	NewBalance string `json:"new_balance"` // Balance immediately after the debit
}

// CreditInput describes one purchase or subscription credit.
type CreditInput struct {
	WalletID       uint   `json:"wallet_id"`       // Wallet to credit
	UserID         uint   `json:"user_id"`         // Owning user
	CreditAmount   string `json:"credit_amount"`   // Decimal amount as string
	InvoiceID      string `json:"invoice_id"`      // External invoice reference
	IdempotencyKey string `json:"idempotency_key"` // Caller-supplied duplicate guard
}

// CreditResult is the recorded outcome of a credit. Replayed is call
// metadata, not part of the recorded outcome: it reports whether this call
// replayed a previously recorded credit instead of applying a fresh one, so
// callers such as the refill sweep can count only real balance changes.
type CreditResult struct {
	Success    bool   `json:"success"`     // Always true for recorded outcomes
	NewBalance string `json:"new_balance"` // Balance immediately after the credit
	Replayed   bool   `json:"-"`           // True when a recorded outcome was replayed
}

// GetOrCreateWallet returns the user's wallet, creating it with a zero
// balance on first access.
func (l *Ledger) GetOrCreateWallet(ctx context.Context, userID uint) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Attrs(domain.Wallet{UserID: userID, Balance: decimal.Zero}).
		FirstOrCreate(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// GetBalance returns the wallet's balance, cache-aside. A missing wallet row
// fails with ErrWalletNotFound; creation is the caller's responsibility.
func (l *Ledger) GetBalance(ctx context.Context, walletID uint) (decimal.Decimal, error) {
	key := cache.WalletBalanceKey(walletID)
	// Try cache first
	if val, found, err := l.cache.Get(ctx, key); err == nil && found {
		if balance, err := decimal.NewFromString(val); err == nil {
			return balance, nil
		}
	}
	// Cache miss - fetch from database
	var wallet domain.Wallet
	err := l.db.WithContext(ctx).First(&wallet, walletID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, ErrWalletNotFound
	} else if err != nil {
		return decimal.Zero, err
	}
	_ = l.cache.Set(ctx, key, wallet.Balance.StringFixed(CostPrecision), cache.NoExpiry)
	return wallet.Balance, nil
}

// InvalidateWalletCache drops the cached balance for the wallet. Every
// balance-mutating path must call this (directly or via the ledger's own
// write paths); a stale cached balance could let a concurrent debit approve
// itself against pre-debit state.
func (l *Ledger) InvalidateWalletCache(ctx context.Context, walletID uint) error {
	return l.cache.Del(ctx, cache.WalletBalanceKey(walletID))
}

// Cost computes the charge for a metered request: token counts times per-token
// prices, marked up, rounded to the ledger precision.
func Cost(price *domain.AIPrice, inputTokens, outputTokens int64) decimal.Decimal {
	input := decimal.NewFromInt(inputTokens).Mul(price.InputTokenPrice)
	output := decimal.NewFromInt(outputTokens).Mul(price.OutputTokenPrice)
	return input.Add(output).Mul(price.MarkupRate).Round(CostPrecision)
}

// DeductCredit debits the wallet for one metered AI request.
//
// The cached idempotency response short-circuits retried requests before any
// store access; the unique key on usage records is the durable backstop that
// replays the recorded outcome even when the cache has lost the entry. The
// balance mutation itself is a conditional update on the wallet's version
// column, retried a bounded number of times.
func (l *Ledger) DeductCredit(ctx context.Context, in DeductInput) (*DeductResult, error) {
	idempKey := cache.IdempotencyKey(in.IdempotencyKey)
	// Retried request: return the recorded outcome verbatim, no side effects
	if val, found, err := l.cache.Get(ctx, idempKey); err == nil && found {
		var res DeductResult
		if err := json.Unmarshal([]byte(val), &res); err == nil {
			return &res, nil
		}
	}
	price, err := l.catalog.GetAIPrice(ctx, in.Provider, in.Model)
	if err != nil {
		return nil, err
	}
	cost := Cost(price, in.InputTokens, in.OutputTokens)
	var res *DeductResult
	for attempt := 0; attempt < l.maxRetries; attempt++ {
		res = nil
		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Durable duplicate guard: an existing record for this key means
			// the debit already happened; replay it instead of re-debiting.
			var prior domain.UsageRecord
			if err := tx.Where("idempotency_key = ?", in.IdempotencyKey).First(&prior).Error; err == nil {
				res = &DeductResult{
					Success:    true,
					UsageID:    prior.UsageID,
					NewBalance: prior.NewBalance.StringFixed(CostPrecision),
				}
				return nil
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			var wallet domain.Wallet
			if err := tx.First(&wallet, in.WalletID).Error; errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			} else if err != nil {
				return err
			}
			// Strictly less than: a zero balance cannot cover any positive cost
			if wallet.Balance.LessThan(cost) {
				return ErrInsufficientBalance
			}
			newBalance := wallet.Balance.Sub(cost)
			updated := tx.Model(&domain.Wallet{}).
				Where("id = ? AND version = ?", wallet.ID, wallet.Version).
				Updates(map[string]any{"balance": newBalance, "version": wallet.Version + 1})
			if updated.Error != nil {
				return updated.Error
			}
			// Zero rows affected: a concurrent writer won the race
			if updated.RowsAffected == 0 {
				return errStaleVersion
			}
			record := domain.UsageRecord{
				UsageID:        uuid.NewString(),
				IdempotencyKey: in.IdempotencyKey,
				WalletID:       wallet.ID,
				UserID:         in.UserID,
				Kind:           domain.UsageKindDeduction,
				Provider:       in.Provider,
				Model:          in.Model,
				InputTokens:    in.InputTokens,
				OutputTokens:   in.OutputTokens,
				Amount:         cost,
				NewBalance:     newBalance,
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			res = &DeductResult{
				Success:    true,
				UsageID:    record.UsageID,
				NewBalance: newBalance.StringFixed(CostPrecision),
			}
			return nil
		})
		if !errors.Is(err, errStaleVersion) {
			break
		}
	}
	if errors.Is(err, errStaleVersion) {
		err = ErrConcurrencyConflict
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id":   in.UserID,     // Owning user
			"wallet_id": in.WalletID,   // Debited wallet
			"provider":  in.Provider,   // AI provider
			"model":     in.Model,      // Model name
			"cost":      cost.String(), // Computed cost
			"error":     err.Error(),   // Error message
		}).Error("Deduction failed") // Log deduction failure
		return nil, err
	}
	l.recordOutcome(ctx, idempKey, in.WalletID, res)
	logrus.WithFields(logrus.Fields{
		"user_id":     in.UserID,                       // Owning user
		"wallet_id":   in.WalletID,                     // Debited wallet
		"usage_id":    res.UsageID,                     // Usage record id
		"cost":        cost.String(),                   // Computed cost
		"new_balance": res.NewBalance,                  // Balance after the debit
		"type":        domain.UsageKindDeduction,       // Transaction type
		"timestamp":   time.Now().Format(time.RFC3339), // Current timestamp
	}).Info("Deduction transaction") // Log deduction success
	return res, nil
}

// CreditPurchase credits the wallet for a purchase or plan grant, with the
// same idempotency short-circuit and optimistic-version update as deduction.
// Addition has no lower bound to enforce, so only the version predicate can
// force a retry.
func (l *Ledger) CreditPurchase(ctx context.Context, in CreditInput) (*CreditResult, error) {
	idempKey := cache.IdempotencyKey(in.IdempotencyKey)
	// Retried request: return the recorded outcome verbatim, no side effects
	if val, found, err := l.cache.Get(ctx, idempKey); err == nil && found {
		var res CreditResult
		if err := json.Unmarshal([]byte(val), &res); err == nil {
			res.Replayed = true
			return &res, nil
		}
	}
	amount, err := decimal.NewFromString(in.CreditAmount)
	if err != nil || amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	var res *CreditResult
	for attempt := 0; attempt < l.maxRetries; attempt++ {
		res = nil
		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var prior domain.UsageRecord
			if err := tx.Where("idempotency_key = ?", in.IdempotencyKey).First(&prior).Error; err == nil {
				res = &CreditResult{
					Success:    true,
					NewBalance: prior.NewBalance.StringFixed(CostPrecision),
					Replayed:   true,
				}
				return nil
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			var wallet domain.Wallet
			if err := tx.First(&wallet, in.WalletID).Error; errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			} else if err != nil {
				return err
			}
			newBalance := wallet.Balance.Add(amount)
			updated := tx.Model(&domain.Wallet{}).
				Where("id = ? AND version = ?", wallet.ID, wallet.Version).
				Updates(map[string]any{"balance": newBalance, "version": wallet.Version + 1})
			if updated.Error != nil {
				return updated.Error
			}
			if updated.RowsAffected == 0 {
				return errStaleVersion
			}
			record := domain.UsageRecord{
				UsageID:        uuid.NewString(),
				IdempotencyKey: in.IdempotencyKey,
				WalletID:       wallet.ID,
				UserID:         in.UserID,
				Kind:           domain.UsageKindCredit,
				Amount:         amount,
				NewBalance:     newBalance,
				InvoiceID:      in.InvoiceID,
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			res = &CreditResult{
				Success:    true,
				NewBalance: newBalance.StringFixed(CostPrecision),
			}
			return nil
		})
		if !errors.Is(err, errStaleVersion) {
			break
		}
	}
	if errors.Is(err, errStaleVersion) {
		err = ErrConcurrencyConflict
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id":    in.UserID,       // Owning user
			"wallet_id":  in.WalletID,     // Credited wallet
			"invoice_id": in.InvoiceID,    // Invoice reference
			"amount":     amount.String(), // Credit amount
			"error":      err.Error(),     // Error message
		}).Error("Credit failed") // Log credit failure
		return nil, err
	}
	l.recordOutcome(ctx, idempKey, in.WalletID, res)
	logrus.WithFields(logrus.Fields{
		"user_id":     in.UserID,                       // Owning user
		"wallet_id":   in.WalletID,                     // Credited wallet
		"invoice_id":  in.InvoiceID,                    // Invoice reference
		"amount":      amount.String(),                 // Credit amount
		"new_balance": res.NewBalance,                  // Balance after the credit
		"type":        domain.UsageKindCredit,          // Transaction type
		"timestamp":   time.Now().Format(time.RFC3339), // Current timestamp
	}).Info("Credit transaction") // Log credit success
	return res, nil
}

// recordOutcome caches the operation's response under its idempotency key and
// invalidates the wallet's cached balance. Both writes are advisory; the
// usage record committed above is the authoritative duplicate-guard and the
// next balance read repopulates from the store.
func (l *Ledger) recordOutcome(ctx context.Context, idempKey string, walletID uint, res any) {
	if data, err := json.Marshal(res); err == nil {
		_ = l.cache.Set(ctx, idempKey, string(data), cache.NoExpiry)
	}
	_ = l.cache.Del(ctx, cache.WalletBalanceKey(walletID))
}
