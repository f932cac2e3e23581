package db

import (
	"credit_system/internal/domain" // Importing domain models

	"github.com/shopspring/decimal" // Seed amounts
	"github.com/sirupsen/logrus"

	"gorm.io/driver/mysql" // MySQL driver for GORM
	"gorm.io/gorm"         // GORM ORM library
)

// Migrate performs automatic migration for the database schema and seeds the
// default plan and price catalog rows when they are absent.
func Migrate(dsn string) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{}) // Open a connection to the database
	if err != nil {
		logrus.Fatalf("failed to connect database: %v", err) // Log fatal error if connection fails
	}
	// AutoMigrate will create tables, missing foreign keys, constraints, columns and indexes
	err = db.AutoMigrate(
		&domain.User{},
		&domain.Wallet{},
		&domain.AIPrice{},
		&domain.UsageRecord{},
		&domain.SubscriptionPlan{},
		&domain.Subscription{},
	)
	if err != nil {
		logrus.Fatalf("migration failed: %v", err) // Log fatal error if migration fails
	}
	Seed(db)
	logrus.Info("Migration completed.") // Log successful migration
}

// Seed inserts the default "free" plan and a starter price row if the
// catalog is empty. Existing rows are never touched.
func Seed(db *gorm.DB) {
	freePlan := domain.SubscriptionPlan{
		Name:                "free",
		DisplayName:         "Free",
		PriceUSD:            decimal.Zero,
		MonthlyQuota:        decimal.RequireFromString("1000.000000"),
		RefillAmount:        decimal.RequireFromString("100.000000"),
		RefillIntervalHours: 24,
		MaxRefillBalance:    decimal.RequireFromString("1000.000000"),
		RolloverEnabled:     false,
		IsActive:            true,
	}
	if err := db.Where("name = ?", freePlan.Name).FirstOrCreate(&freePlan).Error; err != nil {
		logrus.Fatalf("failed to seed plan: %v", err)
	}
	price := domain.AIPrice{
		Provider:         "openai",
		Model:            "gpt-4o",
		ModelType:        "chat",
		InputTokenPrice:  decimal.RequireFromString("0.00015"),
		OutputTokenPrice: decimal.RequireFromString("0.00060"),
		MarkupRate:       decimal.RequireFromString("1.60"),
		IsActive:         true,
	}
	if err := db.Where("provider = ? AND model = ?", price.Provider, price.Model).FirstOrCreate(&price).Error; err != nil {
		logrus.Fatalf("failed to seed price: %v", err)
	}
}
