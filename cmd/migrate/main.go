package main

import (
	"credit_system/internal/config" // Custom import path (Config)
	"credit_system/internal/db"     // Custom import path (Database)
)

// Main entry point for migration
func main() {
	cfg := config.LoadConfig() // Load configuration

	db.Migrate(cfg.DSN()) // Run schema migration and seed defaults
}
