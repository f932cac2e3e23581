package subscription

import (
	"context"                       // Context for store and cache operations
	"credit_system/internal/domain" // Importing domain models
	"credit_system/internal/ledger" // Wallet credit path
	"strconv"                       // Idempotency key parts
	"time"                          // Interval arithmetic

	"github.com/sirupsen/logrus" // Logging library
)

// refillKey is the deterministic idempotency key for one refill of one
// subscription period, so a scheduler firing twice for the same period
// cannot double-refill.
func refillKey(subscriptionID uint, periodIndex int64) string {
	return "refill:" + strconv.FormatUint(uint64(subscriptionID), 10) + ":" + strconv.FormatInt(periodIndex, 10)
}

// refillPeriodIndex numbers the refill windows since the current billing
// period started.
func refillPeriodIndex(sub *domain.Subscription, plan *domain.SubscriptionPlan, now time.Time) int64 {
	interval := time.Duration(plan.RefillIntervalHours) * time.Hour
	if interval <= 0 {
		return 0
	}
	return int64(now.Sub(sub.CurrentPeriodStart) / interval)
}

// RefillSubscription applies the plan's refill policy to one subscription,
// reporting whether a refill was applied. A subscription is eligible when the
// refill interval has elapsed since the last refill and the wallet balance is
// below the plan's cap; the credited amount never pushes the balance above
// the cap. The credit goes through the Ledger under a per-period idempotency
// key, so duplicate scheduler fires are harmless.
func (m *Manager) RefillSubscription(ctx context.Context, sub *domain.Subscription) (bool, error) {
	plan, err := m.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return false, err
	}
	now := m.now()
	interval := time.Duration(plan.RefillIntervalHours) * time.Hour
	if interval <= 0 || now.Sub(sub.LastRefillAt) < interval {
		return false, nil
	}
	balance, err := m.ledger.GetBalance(ctx, sub.WalletID)
	if err != nil {
		return false, err
	}
	// Balance at or above the cap: nothing to top up. With rollover enabled
	// any surplus above the cap is left untouched; without rollover the
	// capped amount below always keeps post-refill balance at or under the
	// cap, so no surplus accumulates through refills in the first place.
	if balance.GreaterThanOrEqual(plan.MaxRefillBalance) {
		return false, nil
	}
	amount := plan.RefillAmount
	if headroom := plan.MaxRefillBalance.Sub(balance); amount.GreaterThan(headroom) {
		amount = headroom
	}
	if !amount.IsPositive() {
		return false, nil
	}
	res, err := m.ledger.CreditPurchase(ctx, ledger.CreditInput{
		WalletID:       sub.WalletID,
		UserID:         sub.UserID,
		CreditAmount:   amount.StringFixed(ledger.CostPrecision),
		InvoiceID:      "refill:" + strconv.FormatUint(uint64(sub.ID), 10),
		IdempotencyKey: refillKey(sub.ID, refillPeriodIndex(sub, plan, now)),
	})
	if err != nil {
		return false, err
	}
	// Advance the refill clock only after the credit is durably recorded.
	// Advanced even when the credit was a replay, so a duplicate fire for an
	// already-refilled period does not keep the subscription eligible.
	if err := m.db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ?", sub.ID).
		Update("last_refill_at", now).Error; err != nil {
		return false, err
	}
	sub.LastRefillAt = now
	m.invalidateSubscriptionCache(ctx, sub.UserID)
	if res.Replayed {
		// The period's refill was already applied by an earlier fire; this
		// call changed no balance and must not be counted as a refill.
		logrus.WithFields(logrus.Fields{
			"user_id":         sub.UserID, // Owning user
			"subscription_id": sub.ID,     // Already-refilled subscription
		}).Info("Refill already applied for period") // Log duplicate fire
		return false, nil
	}
	logrus.WithFields(logrus.Fields{
		"user_id":         sub.UserID,      // Owning user
		"subscription_id": sub.ID,          // Refilled subscription
		"amount":          amount.String(), // Credited amount
	}).Info("Subscription refilled") // Log refill
	return true, nil
}

// RunRefills applies the refill policy across all active subscriptions and
// returns how many were refilled. Failures on individual subscriptions are
// logged and skipped so one bad row cannot starve the rest of the sweep.
func (m *Manager) RunRefills(ctx context.Context) (int, error) {
	var subs []domain.Subscription
	err := m.db.WithContext(ctx).
		Where("status = ?", domain.SubscriptionStatusActive).
		Find(&subs).Error
	if err != nil {
		return 0, err
	}
	refilled := 0
	for i := range subs {
		ok, err := m.RefillSubscription(ctx, &subs[i])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"subscription_id": subs[i].ID,  // Failing subscription
				"error":           err.Error(), // Error message
			}).Error("Refill failed") // Log refill failure
			continue
		}
		if ok {
			refilled++
		}
	}
	return refilled, nil
}
