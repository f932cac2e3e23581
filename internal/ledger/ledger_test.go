package ledger

import (
	"context"
	"credit_system/internal/cache"
	"credit_system/internal/domain"
	"credit_system/internal/pricing"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Wallet{}, &domain.AIPrice{}, &domain.UsageRecord{}))
	return db
}

func newTestLedger(t *testing.T) (*gorm.DB, cache.Cache, *Ledger) {
	t.Helper()
	db := newTestDB(t)
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })
	return db, c, New(db, c, pricing.NewCatalog(db, c))
}

// failingCache returns the same error from every operation, simulating a
// cache backend outage.
type failingCache struct{ err error }

func (f *failingCache) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f *failingCache) Set(context.Context, string, string, time.Duration) error {
	return f.err
}
func (f *failingCache) SetEx(context.Context, string, time.Duration, string) error {
	return f.err
}
func (f *failingCache) Del(context.Context, string) error        { return f.err }
func (f *failingCache) DelMany(context.Context, ...string) error { return f.err }
func (f *failingCache) Close() error                             { return f.err }

// seedSpecPrice inserts the gpt-4o reference pricing used across tests.
func seedSpecPrice(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&domain.AIPrice{
		Provider:         "openai",
		Model:            "gpt-4o",
		InputTokenPrice:  decimal.RequireFromString("0.00015"),
		OutputTokenPrice: decimal.RequireFromString("0.00060"),
		MarkupRate:       decimal.RequireFromString("1.60"),
		IsActive:         true,
	}).Error)
}

func newWallet(t *testing.T, l *Ledger, userID uint) *domain.Wallet {
	t.Helper()
	wallet, err := l.GetOrCreateWallet(context.Background(), userID)
	require.NoError(t, err)
	return wallet
}

func creditWallet(t *testing.T, l *Ledger, wallet *domain.Wallet, amount, key string) {
	t.Helper()
	_, err := l.CreditPurchase(context.Background(), CreditInput{
		WalletID:       wallet.ID,
		UserID:         wallet.UserID,
		CreditAmount:   amount,
		InvoiceID:      "inv-" + key,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
}

func walletVersion(t *testing.T, db *gorm.DB, walletID uint) int64 {
	t.Helper()
	var wallet domain.Wallet
	require.NoError(t, db.First(&wallet, walletID).Error)
	return wallet.Version
}

func TestGetOrCreateWallet(t *testing.T) {
	_, _, l := newTestLedger(t)

	first := newWallet(t, l, 1)
	assert.True(t, first.Balance.IsZero())

	// Second access returns the same wallet, not a new one
	second := newWallet(t, l, 1)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetBalanceWalletNotFound(t *testing.T) {
	_, _, l := newTestLedger(t)

	_, err := l.GetBalance(context.Background(), 999)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestGetBalanceCacheAside(t *testing.T) {
	db, c, l := newTestLedger(t)
	wallet := newWallet(t, l, 1)
	ctx := context.Background()

	balance, err := l.GetBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	// The read populated the cache under the exact namespace key
	_, found, err := c.Get(ctx, cache.WalletBalanceKey(wallet.ID))
	require.NoError(t, err)
	assert.True(t, found)

	// A direct store write is masked until the cache is invalidated
	require.NoError(t, db.Model(&domain.Wallet{}).Where("id = ?", wallet.ID).
		Update("balance", decimal.RequireFromString("5")).Error)
	balance, err = l.GetBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	require.NoError(t, l.InvalidateWalletCache(ctx, wallet.ID))
	balance, err = l.GetBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("5")))
}

func TestCostComputation(t *testing.T) {
	price := &domain.AIPrice{
		InputTokenPrice:  decimal.RequireFromString("0.00015"),
		OutputTokenPrice: decimal.RequireFromString("0.00060"),
		MarkupRate:       decimal.RequireFromString("1.60"),
	}
	// 100000*0.00015*1.6 + 50000*0.00060*1.6 = 24 + 48 = 72
	cost := Cost(price, 100000, 50000)
	assert.Equal(t, "72.000000", cost.StringFixed(CostPrecision))
}

func TestDeductCredit(t *testing.T) {
	db, _, l := newTestLedger(t)
	seedSpecPrice(t, db)
	wallet := newWallet(t, l, 1)
	creditWallet(t, l, wallet, "100.000000", "purchase-1")

	res, err := l.DeductCredit(context.Background(), DeductInput{
		WalletID:       wallet.ID,
		UserID:         1,
		Provider:       "openai",
		Model:          "gpt-4o",
		InputTokens:    100000, // costs 24
		OutputTokens:   0,
		IdempotencyKey: "deduct-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.UsageID)
	assert.Equal(t, "76.000000", res.NewBalance)

	// One usage record, balance persisted, version bumped once per mutation
	var count int64
	require.NoError(t, db.Model(&domain.UsageRecord{}).
		Where("kind = ?", domain.UsageKindDeduction).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.EqualValues(t, 2, walletVersion(t, db, wallet.ID)) // credit + deduct
}

func TestDeductCreditInsufficientBalance(t *testing.T) {
	db, _, l := newTestLedger(t)
	seedSpecPrice(t, db)
	wallet := newWallet(t, l, 1)
	creditWallet(t, l, wallet, "0.000001", "purchase-1")

	// The worked example: cost 72 vastly exceeds a 0.000001 balance
	_, err := l.DeductCredit(context.Background(), DeductInput{
		WalletID:       wallet.ID,
		UserID:         1,
		Provider:       "openai",
		Model:          "gpt-4o",
		InputTokens:    100000,
		OutputTokens:   50000,
		IdempotencyKey: "deduct-1",
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// No partial writes: balance unchanged, no deduction record, version untouched
	balance, err := l.GetBalance(context.Background(), wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.000001", balance.StringFixed(CostPrecision))
	var count int64
	require.NoError(t, db.Model(&domain.UsageRecord{}).
		Where("kind = ?", domain.UsageKindDeduction).Count(&count).Error)
	assert.EqualValues(t, 0, count)
	assert.EqualValues(t, 1, walletVersion(t, db, wallet.ID))
}

func TestDeductCreditZeroBalance(t *testing.T) {
	db, _, l := newTestLedger(t)
	seedSpecPrice(t, db)
	wallet := newWallet(t, l, 1)

	// A zero balance is insufficient for any positive cost
	_, err := l.DeductCredit(context.Background(), DeductInput{
		WalletID:       wallet.ID,
		UserID:         1,
		Provider:       "openai",
		Model:          "gpt-4o",
		InputTokens:    1,
		IdempotencyKey: "deduct-1",
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestDeductCreditPriceNotFound(t *testing.T) {
	_, _, l := newTestLedger(t)
	wallet := newWallet(t, l, 1)

	_, err := l.DeductCredit(context.Background(), DeductInput{
		WalletID:       wallet.ID,
		UserID:         1,
		Provider:       "openai",
		Model:          "unknown",
		InputTokens:    1,
		IdempotencyKey: "deduct-1",
	})
	assert.ErrorIs(t, err, pricing.ErrPriceNotFound)
}

func TestDeductCreditIdempotentReplay(t *testing.T) {
	db, c, l := newTestLedger(t)
	seedSpecPrice(t, db)
	wallet := newWallet(t, l, 1)
	creditWallet(t, l, wallet, "100.000000", "purchase-1")
	ctx := context.Background()

	in := DeductInput{
		WalletID:       wallet.ID,
		UserID:         1,
		Provider:       "openai",
		Model:          "gpt-4o",
		InputTokens:    100000,
		IdempotencyKey: "deduct-1",
	}
	first, err := l.DeductCredit(ctx, in)
	require.NoError(t, err)

	// Replays observe exactly the first outcome and cause no further debit
	for i := 0; i < 3; i++ {
		replay, err := l.DeductCredit(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, first, replay)
	}

	// Even with the cache wiped, the durable usage record replays the outcome
	require.NoError(t, c.Del(ctx, cache.IdempotencyKey("deduct-1")))
	replay, err := l.DeductCredit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first, replay)

	var count int64
	require.NoError(t, db.Model(&domain.UsageRecord{}).
		Where("idempotency_key = ?", "deduct-1").Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.EqualValues(t, 2, walletVersion(t, db, wallet.ID))
}

func TestCreditPurchaseIdempotentReplay(t *testing.T) {
	db, c, l := newTestLedger(t)
	wallet := newWallet(t, l, 1)
	ctx := context.Background()

	in := CreditInput{
		WalletID:       wallet.ID,
		UserID:         1,
		CreditAmount:   "50.000000",
		InvoiceID:      "inv-1",
		IdempotencyKey: "credit-1",
	}
	first, err := l.CreditPurchase(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "50.000000", first.NewBalance)
	assert.False(t, first.Replayed) // fresh credit, not a replay

	replay, err := l.CreditPurchase(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.NewBalance, replay.NewBalance)
	assert.True(t, replay.Success)
	assert.True(t, replay.Replayed)

	// Durable backstop survives a cache wipe and still reports the replay
	require.NoError(t, c.Del(ctx, cache.IdempotencyKey("credit-1")))
	replay, err = l.CreditPurchase(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.NewBalance, replay.NewBalance)
	assert.True(t, replay.Replayed)

	balance, err := l.GetBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.000000", balance.StringFixed(CostPrecision))
	assert.EqualValues(t, 1, walletVersion(t, db, wallet.ID))
}

func TestCreditPurchaseInvalidAmount(t *testing.T) {
	_, _, l := newTestLedger(t)
	wallet := newWallet(t, l, 1)

	for _, amount := range []string{"not-a-number", "-5"} {
		_, err := l.CreditPurchase(context.Background(), CreditInput{
			WalletID:       wallet.ID,
			UserID:         1,
			CreditAmount:   amount,
			InvoiceID:      "inv-1",
			IdempotencyKey: "credit-" + amount,
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestDeductInvalidatesBalanceCache(t *testing.T) {
	db, c, l := newTestLedger(t)
	seedSpecPrice(t, db)
	wallet := newWallet(t, l, 1)
	creditWallet(t, l, wallet, "100.000000", "purchase-1")
	ctx := context.Background()

	// Warm the balance cache, then debit; the stale entry must be gone so a
	// concurrent debit cannot approve itself against pre-debit state
	_, err := l.GetBalance(ctx, wallet.ID)
	require.NoError(t, err)
	_, err = l.DeductCredit(ctx, DeductInput{
		WalletID:       wallet.ID,
		UserID:         1,
		Provider:       "openai",
		Model:          "gpt-4o",
		InputTokens:    100000,
		IdempotencyKey: "deduct-1",
	})
	require.NoError(t, err)

	_, found, err := c.Get(ctx, cache.WalletBalanceKey(wallet.ID))
	require.NoError(t, err)
	assert.False(t, found)

	balance, err := l.GetBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, "76.000000", balance.StringFixed(CostPrecision))
}

func TestConcurrentDebitsExhaustBalanceExactly(t *testing.T) {
	db, _, l := newTestLedger(t)
	seedSpecPrice(t, db)
	wallet := newWallet(t, l, 1)
	// Each debit below costs 24; a balance of 72 funds exactly 3 of them
	creditWallet(t, l, wallet, "72.000000", "purchase-1")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.DeductCredit(context.Background(), DeductInput{
				WalletID:       wallet.ID,
				UserID:         1,
				Provider:       "openai",
				Model:          "gpt-4o",
				InputTokens:    100000, // costs 24
				IdempotencyKey: fmt.Sprintf("deduct-%d", i),
			})
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, ErrInsufficientBalance):
			insufficient++
		}
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, attempts-3, insufficient)

	var final domain.Wallet
	require.NoError(t, db.First(&final, wallet.ID).Error)
	assert.True(t, final.Balance.IsZero())
	assert.False(t, final.Balance.IsNegative())
	// One version bump per successful mutation: 1 credit + 3 debits
	assert.EqualValues(t, 4, final.Version)
}

func TestDeductCreditConflictAfterRetriesExhausted(t *testing.T) {
	db, _, l := newTestLedger(t)
	seedSpecPrice(t, db)
	wallet := newWallet(t, l, 1)
	creditWallet(t, l, wallet, "100.000000", "purchase-1")

	// After each in-transaction wallet read, bump the row's version on the
	// transaction's own connection. The conditional update then always sees a
	// stale version token, so every attempt loses the race and rolls back.
	contend := false
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("contend_wallet_version", func(tx *gorm.DB) {
		if !contend {
			return
		}
		if _, ok := tx.Statement.Dest.(*domain.Wallet); !ok {
			return
		}
		_, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"UPDATE wallets SET version = version + 1 WHERE id = ?", wallet.ID)
		assert.NoError(t, err)
	}))

	in := DeductInput{
		WalletID:       wallet.ID,
		UserID:         1,
		Provider:       "openai",
		Model:          "gpt-4o",
		InputTokens:    100000, // costs 24
		IdempotencyKey: "deduct-contended",
	}
	l.maxRetries = 2
	contend = true
	_, err := l.DeductCredit(context.Background(), in)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	contend = false

	// Every attempt rolled back: balance and version untouched, no record
	var final domain.Wallet
	require.NoError(t, db.First(&final, wallet.ID).Error)
	assert.Equal(t, "100.000000", final.Balance.StringFixed(CostPrecision))
	assert.EqualValues(t, 1, final.Version)
	var count int64
	require.NoError(t, db.Model(&domain.UsageRecord{}).
		Where("kind = ?", domain.UsageKindDeduction).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	// With the contention gone the same idempotency key goes through cleanly
	res, err := l.DeductCredit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "76.000000", res.NewBalance)
}

func TestLedgerFailsOpenOnCacheOutage(t *testing.T) {
	db := newTestDB(t)
	down := &failingCache{err: errors.New("cache backend unavailable")}
	l := New(db, down, pricing.NewCatalog(db, down))
	seedSpecPrice(t, db)
	ctx := context.Background()

	// Every operation degrades to store-only instead of surfacing cache errors
	wallet := newWallet(t, l, 1)
	creditWallet(t, l, wallet, "100.000000", "purchase-1")
	balance, err := l.GetBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.000000", balance.StringFixed(CostPrecision))

	in := DeductInput{
		WalletID:       wallet.ID,
		UserID:         1,
		Provider:       "openai",
		Model:          "gpt-4o",
		InputTokens:    100000, // costs 24
		IdempotencyKey: "deduct-1",
	}
	res, err := l.DeductCredit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "76.000000", res.NewBalance)

	// With the cache down, idempotency falls through to the durable
	// usage-record backstop and still replays the recorded outcome
	replay, err := l.DeductCredit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, res, replay)
	var count int64
	require.NoError(t, db.Model(&domain.UsageRecord{}).
		Where("idempotency_key = ?", "deduct-1").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestStaleVersionUpdateAffectsNoRows(t *testing.T) {
	db, _, l := newTestLedger(t)
	wallet := newWallet(t, l, 1)

	// The conditional update is the serialization point: a stale version
	// predicate must match nothing
	updated := db.Model(&domain.Wallet{}).
		Where("id = ? AND version = ?", wallet.ID, wallet.Version+100).
		Updates(map[string]any{"balance": decimal.RequireFromString("999"), "version": wallet.Version + 101})
	require.NoError(t, updated.Error)
	assert.EqualValues(t, 0, updated.RowsAffected)

	balance, err := l.GetBalance(context.Background(), wallet.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}
