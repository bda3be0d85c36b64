// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for databases, logs and backups (always absolute)
	Port     int
	DevMode  bool
	LogLevel string
	LogFile  string // empty disables file logging
	Pretty   bool   // console-formatted log output

	// Market data provider
	MarketDataURL    string
	MarketDataAPIKey string
	MarketDataWSURL  string // empty disables the tick stream

	// Cron schedules (robfig/cron format, with seconds)
	EvaluateSchedule    string
	PayoutSchedule      string
	BackupSchedule      string
	MaintenanceSchedule string

	// Backup replication to an S3-compatible bucket
	Backup BackupConfig
}

// BackupConfig holds backup and off-site replication settings
type BackupConfig struct {
	RetentionDays int
	S3Endpoint    string
	S3Region      string
	S3Bucket      string
	S3AccessKeyID string
	S3SecretKey   string
}

// RemoteEnabled reports whether off-site replication is configured
func (b BackupConfig) RemoteEnabled() bool {
	return b.S3Bucket != "" && b.S3AccessKeyID != "" && b.S3SecretKey != ""
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("ANCHOR_DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("ANCHOR_PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
		Pretty:   getEnvAsBool("LOG_PRETTY", false),

		MarketDataURL:    getEnv("MARKET_DATA_URL", ""),
		MarketDataAPIKey: getEnv("MARKET_DATA_API_KEY", ""),
		MarketDataWSURL:  getEnv("MARKET_DATA_WS_URL", ""),

		// Evaluate every 5 minutes; settle payouts and archive backups
		// overnight, checkpoint WALs hourly.
		EvaluateSchedule:    getEnv("EVALUATE_SCHEDULE", "0 */5 * * * *"),
		PayoutSchedule:      getEnv("PAYOUT_SCHEDULE", "0 30 8 * * *"),
		BackupSchedule:      getEnv("BACKUP_SCHEDULE", "0 0 2 * * *"),
		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "0 15 * * * *"),

		Backup: BackupConfig{
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
			S3Endpoint:    getEnv("BACKUP_S3_ENDPOINT", ""),
			S3Region:      getEnv("BACKUP_S3_REGION", ""),
			S3Bucket:      getEnv("BACKUP_S3_BUCKET", ""),
			S3AccessKeyID: getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			S3SecretKey:   getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	// Market data is optional: without a provider the engine still serves
	// API-driven evaluations and simulations over stored history.
	return nil
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
