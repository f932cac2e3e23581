package subscription

import (
	"context"                       // Context for store and cache operations
	"credit_system/internal/cache"  // Cache abstraction
	"credit_system/internal/domain" // Importing domain models
	"credit_system/internal/ledger" // Wallet credit path
	"encoding/json"                 // JSON encoding for cached rows
	"errors"                        // Sentinel errors
	"strconv"                       // Idempotency key parts
	"time"                          // Billing periods

	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// Typed failures surfaced by subscription operations.
var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrAlreadySubscribed    = errors.New("already subscribed")
)

// noSubscription is the tombstone cached when a user has no active
// subscription, so an empty lookup is distinguishable from "not yet cached".
// It carries a short TTL because absence can change at any time.
const noSubscription = "none"

// tombstoneTTL bounds how long a cached "no subscription" answer may live.
const tombstoneTTL = 30 * time.Second

// Manager owns plan lookup, the active-subscription lifecycle and the
// periodic refill policy. All wallet credits go through the Ledger so they
// inherit its idempotency and optimistic-concurrency guarantees.
type Manager struct {
	db     *gorm.DB         // Durable store
	cache  cache.Cache      // Advisory read-through cache
	ledger *ledger.Ledger   // Wallet credit path
	now    func() time.Time // Clock, injectable in tests
}

// NewManager creates a subscription manager over the given collaborators.
func NewManager(db *gorm.DB, c cache.Cache, l *ledger.Ledger) *Manager {
	return &Manager{db: db, cache: c, ledger: l, now: time.Now}
}

// getPlanCached runs one cache-aside plan lookup under the given key.
func (m *Manager) getPlanCached(ctx context.Context, key string, query func(*gorm.DB) *gorm.DB) (*domain.SubscriptionPlan, error) {
	// Try cache first
	if val, found, err := m.cache.Get(ctx, key); err == nil && found {
		var plan domain.SubscriptionPlan
		if err := json.Unmarshal([]byte(val), &plan); err == nil {
			return &plan, nil
		}
	}
	// Cache miss - fetch from database
	var plan domain.SubscriptionPlan
	err := query(m.db.WithContext(ctx)).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanNotFound
	} else if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(&plan); err == nil {
		_ = m.cache.Set(ctx, key, string(data), cache.NoExpiry)
	}
	return &plan, nil
}

// GetPlan returns a plan by primary key.
func (m *Manager) GetPlan(ctx context.Context, planID uint) (*domain.SubscriptionPlan, error) {
	return m.getPlanCached(ctx, cache.PlanKey(planID), func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", planID)
	})
}

// GetPlanByName returns a plan by its unique name.
func (m *Manager) GetPlanByName(ctx context.Context, name string) (*domain.SubscriptionPlan, error) {
	return m.getPlanCached(ctx, cache.PlanNameKey(name), func(db *gorm.DB) *gorm.DB {
		return db.Where("name = ?", name)
	})
}

// GetActiveSubscription returns the user's active subscription, or nil when
// none exists. Absence is cached as a short-lived tombstone rather than
// nothing, so hot callers do not hammer the store for unsubscribed users.
func (m *Manager) GetActiveSubscription(ctx context.Context, userID uint) (*domain.Subscription, error) {
	key := cache.SubscriptionKey(userID)
	// Try cache first
	if val, found, err := m.cache.Get(ctx, key); err == nil && found {
		if val == noSubscription {
			return nil, nil
		}
		var sub domain.Subscription
		if err := json.Unmarshal([]byte(val), &sub); err == nil {
			return &sub, nil
		}
	}
	// Cache miss - fetch from database
	var sub domain.Subscription
	err := m.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.SubscriptionStatusActive).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		_ = m.cache.SetEx(ctx, key, tombstoneTTL, noSubscription)
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(&sub); err == nil {
		_ = m.cache.Set(ctx, key, string(data), cache.NoExpiry)
	}
	return &sub, nil
}

// invalidateSubscriptionCache drops the user's cached active subscription.
func (m *Manager) invalidateSubscriptionCache(ctx context.Context, userID uint) {
	_ = m.cache.Del(ctx, cache.SubscriptionKey(userID))
}

// CreateSubscription subscribes the user to the plan, granting the plan's
// monthly quota to their wallet. A user holds at most one active subscription
// at a time; creation against an existing active one fails with
// ErrAlreadySubscribed.
func (m *Manager) CreateSubscription(ctx context.Context, userID, planID uint) (*domain.Subscription, error) {
	existing, err := m.GetActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == domain.SubscriptionStatusActive {
		return nil, ErrAlreadySubscribed
	}
	plan, err := m.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanNotFound
	}
	wallet, err := m.ledger.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	sub := domain.Subscription{
		UserID:             userID,
		PlanID:             plan.ID,
		WalletID:           wallet.ID,
		Status:             domain.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0), // Billing cycle is one month
		LastRefillAt:       now,
	}
	if err := m.db.WithContext(ctx).Create(&sub).Error; err != nil {
		return nil, err
	}
	// Grant the monthly quota through the ledger. The idempotency key is
	// derived from the subscription id, so a retried creation cannot
	// double-credit the wallet.
	_, err = m.ledger.CreditPurchase(ctx, ledger.CreditInput{
		WalletID:       wallet.ID,
		UserID:         userID,
		CreditAmount:   plan.MonthlyQuota.StringFixed(ledger.CostPrecision),
		InvoiceID:      "subscription:" + strconv.FormatUint(uint64(sub.ID), 10),
		IdempotencyKey: subscriptionGrantKey(sub.ID),
	})
	if err != nil {
		return nil, err
	}
	m.invalidateSubscriptionCache(ctx, userID)
	logrus.WithFields(logrus.Fields{
		"user_id":         userID,                     // Subscribing user
		"plan":            plan.Name,                  // Plan name
		"subscription_id": sub.ID,                     // New subscription id
		"quota":           plan.MonthlyQuota.String(), // Granted credits
	}).Info("Subscription created") // Log subscription creation
	return &sub, nil
}

// GetSubscription returns one subscription row by primary key.
func (m *Manager) GetSubscription(ctx context.Context, subscriptionID uint) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := m.db.WithContext(ctx).First(&sub, subscriptionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	} else if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription cancels the subscription. Canceling an already canceled
// subscription is a no-op success; unused quota is not clawed back.
func (m *Manager) CancelSubscription(ctx context.Context, subscriptionID uint) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&sub, subscriptionID).Error; errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionNotFound
		} else if err != nil {
			return err
		}
		// Idempotent cancel: the terminal state is already reached
		if sub.Status == domain.SubscriptionStatusCanceled {
			return nil
		}
		now := m.now()
		updated := tx.Model(&sub).Updates(map[string]any{
			"status":      domain.SubscriptionStatusCanceled,
			"canceled_at": now,
		})
		if updated.Error != nil {
			return updated.Error
		}
		sub.Status = domain.SubscriptionStatusCanceled
		sub.CanceledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.invalidateSubscriptionCache(ctx, sub.UserID)
	logrus.WithFields(logrus.Fields{
		"user_id":         sub.UserID, // Owning user
		"subscription_id": sub.ID,     // Canceled subscription id
	}).Info("Subscription canceled") // Log subscription cancel
	return &sub, nil
}

// subscriptionGrantKey is the deterministic idempotency key for a
// subscription's initial quota grant.
func subscriptionGrantKey(subscriptionID uint) string {
	return "subscription:" + strconv.FormatUint(uint64(subscriptionID), 10) + ":grant"
}
