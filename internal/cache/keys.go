package cache

import (
	"strconv" // Integer key parts
)

// Cache key namespace. These exact formats are shared with anything that
// inspects the cache directly, so they must not change shape.

// WalletBalanceKey is the cache key for a wallet's balance.
func WalletBalanceKey(walletID uint) string {
	return "wallet:" + strconv.FormatUint(uint64(walletID), 10) + ":balance"
}

// PriceKey is the cache key for a (provider, model) price row.
func PriceKey(provider, model string) string {
	return "price:" + provider + ":" + model
}

// PlanKey is the cache key for a plan looked up by id.
func PlanKey(planID uint) string {
	return "plan:" + strconv.FormatUint(uint64(planID), 10)
}

// PlanNameKey is the cache key for a plan looked up by unique name.
func PlanNameKey(name string) string {
	return "plan:name:" + name
}

// SubscriptionKey is the cache key for a user's active subscription.
func SubscriptionKey(userID uint) string {
	return "subscription:" + strconv.FormatUint(uint64(userID), 10)
}

// IdempotencyKey is the cache key for a recorded operation result.
func IdempotencyKey(key string) string {
	return "idemp:" + key
}
