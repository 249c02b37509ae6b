package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
type AppConfig struct {
	DatabaseURL string
	LogLevel    string
	Environment string

	// MaxAlarmProfiles caps how many alarm profiles one user may hold.
	MaxAlarmProfiles int

	// MatcherCronSpec drives the notification matcher. Slot matching is
	// exact-minute, so this must fire at least once per minute; the default
	// is every minute and Load rejects anything else it cannot verify.
	MatcherCronSpec string
	// ResyncCronSpec drives the periodic sweep for profiles needing a resync.
	ResyncCronSpec string
	// ResyncBatchLimit bounds how many resync candidates one sweep picks up.
	ResyncBatchLimit int

	// MetricsAddr is the listen address for the Prometheus /metrics endpoint.
	MetricsAddr string
}

// Load reads configuration from environment variables and a .env file (if
// present). godotenv never overrides variables already set in the
// environment.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	var err error
	cfg.MaxAlarmProfiles, err = getEnvInt("MAX_ALARM_PROFILES", 10)
	if err != nil {
		return nil, err
	}
	if cfg.MaxAlarmProfiles < 1 {
		return nil, fmt.Errorf("MAX_ALARM_PROFILES must be at least 1")
	}

	cfg.MatcherCronSpec = os.Getenv("MATCHER_CRON_SPEC")
	if cfg.MatcherCronSpec == "" {
		cfg.MatcherCronSpec = "* * * * *" // every minute
	}
	// Exact-minute matching skips users for the whole day if a tick is
	// missed, so only specs whose minute field fires every minute are
	// accepted.
	if fields := strings.Fields(cfg.MatcherCronSpec); len(fields) == 0 || !strings.HasPrefix(fields[0], "*") {
		return nil, fmt.Errorf("MATCHER_CRON_SPEC %q must fire every minute", cfg.MatcherCronSpec)
	}

	cfg.ResyncCronSpec = os.Getenv("RESYNC_CRON_SPEC")
	if cfg.ResyncCronSpec == "" {
		cfg.ResyncCronSpec = "*/5 * * * *" // every 5 minutes
	}

	cfg.ResyncBatchLimit, err = getEnvInt("RESYNC_BATCH_LIMIT", 50)
	if err != nil {
		return nil, err
	}
	if cfg.ResyncBatchLimit < 1 {
		return nil, fmt.Errorf("RESYNC_BATCH_LIMIT must be at least 1")
	}

	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}

	return cfg, nil
}

func getEnvInt(key string, defaultVal int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
