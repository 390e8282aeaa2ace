package config

import (
	"os"
	"strconv"
	"time"
)

// PricingTier maps a purchasable tier to its charge and token count.
type PricingTier struct {
	AmountCents int64
	Tokens      int64
}

type BillingConfig struct {
	LockTimeout          time.Duration
	MaxPurchasesPerUser  int
	RateLimitWindow      time.Duration
	TransactionCacheTTL  time.Duration
	HistoryLimit         int
	Tiers                map[string]PricingTier
}

func LoadBillingConfig() *BillingConfig {
	return &BillingConfig{
		LockTimeout:         getEnvAsDuration("LEDGER_LOCK_TIMEOUT", 2*time.Second),
		MaxPurchasesPerUser: getEnvAsInt("PURCHASE_MAX_PER_USER", 10),
		RateLimitWindow:     getEnvAsDuration("PURCHASE_RATE_LIMIT_WINDOW", 1*time.Hour),
		TransactionCacheTTL: getEnvAsDuration("TRANSACTION_CACHE_TTL", 30*time.Second),
		HistoryLimit:        getEnvAsInt("TRANSACTION_HISTORY_LIMIT", 50),
		Tiers: map[string]PricingTier{
			"tier_1": {AmountCents: 500, Tokens: 100},
			"tier_2": {AmountCents: 1000, Tokens: 250},
			"tier_3": {AmountCents: 2000, Tokens: 600},
		},
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
