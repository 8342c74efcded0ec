// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds runtime application configuration loaded from the
// environment. Strategy parameters (rule thresholds, annealer schedule,
// step sizes) live in a separate YAML file, see Strategy.
type Config struct {
	DataDir        string  // base directory for the ledger and cache databases
	StrategyPath   string  // path to strategy.yaml; empty uses built-in defaults
	ExchangeAPIKey string
	ExchangeSecret string
	LogLevel       string
	Port           int
	DevMode        bool
	PaperCash      float64 // starting cash for the dev-mode paper broker
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("QFOLIO_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        absDataDir,
		StrategyPath:   getEnv("QFOLIO_STRATEGY_CONFIG", ""),
		ExchangeAPIKey: getEnv("EXCHANGE_API_KEY", ""),
		ExchangeSecret: getEnv("EXCHANGE_API_SECRET", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Port:           getEnvAsInt("QFOLIO_PORT", 8011),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		PaperCash:      getEnvAsFloat("QFOLIO_PAPER_CASH", 100_000),
	}

	return cfg, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
