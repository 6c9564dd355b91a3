package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all environment-level configuration for the worker and gateway.
type Config struct {
	Port        string
	RedisURL    string
	MongoURI    string
	DatabaseURL string // event log: mysql://... DSN or a local SQLite file path

	// Oracle (reasoning service)
	OpenAIAPIKey      string
	OracleModel       string
	OracleTemperature float64
	OracleConcurrency int // global gate limit, shared across workers
	OracleRetries     int
	BackoffInitialMs  int
	BackoffMaxMs      int

	// Marketplace
	MarketplaceBaseURL     string
	MarketplaceConcurrency int // per-account gate limit
	MarketplaceRateLimit   float64
	WebhookBaseURL         string
	WebhookSecret          string
	PollInterval           time.Duration

	// Engine coordination
	LockTTL        time.Duration
	SemaphoreTTL   time.Duration
	DebounceWindow time.Duration
	HistoryWindow  int // turns fed to the oracle

	// Quota
	QuotaDefault int64 // initial dialogue quota per account

	// Scheduling
	SilenceSweepCron string
	RulesPath        string
	CalendarPath     string
	AlertChannel     string
	ConsumerGroup    string
	ReclaimMinIdle   time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		MongoURI:    getEnv("MONGODB_URI", "mongodb://localhost:27017/hirepilot"),
		DatabaseURL: getEnv("DATABASE_URL", "hirepilot.db"),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OracleModel:       getEnv("ORACLE_MODEL", "gpt-4o-mini"),
		OracleTemperature: getFloatEnv("ORACLE_TEMPERATURE", 0.2),
		OracleConcurrency: getIntEnv("ORACLE_CONCURRENCY", 5),
		OracleRetries:     getIntEnv("ORACLE_RETRIES", 3),
		BackoffInitialMs:  getIntEnv("ORACLE_BACKOFF_INITIAL_MS", 1000),
		BackoffMaxMs:      getIntEnv("ORACLE_BACKOFF_MAX_MS", 30000),

		MarketplaceBaseURL:     getEnv("MARKETPLACE_BASE_URL", "https://api.avito.ru"),
		MarketplaceConcurrency: getIntEnv("MARKETPLACE_CONCURRENCY", 3),
		MarketplaceRateLimit:   getFloatEnv("MARKETPLACE_RATE_LIMIT", 5),
		WebhookBaseURL:         getEnv("WEBHOOK_BASE_URL", ""),
		WebhookSecret:          getEnv("WEBHOOK_SECRET", ""),
		PollInterval:           getDurationEnv("POLL_INTERVAL", 30*time.Second),

		LockTTL:        getDurationEnv("LOCK_TTL", 120*time.Second),
		SemaphoreTTL:   getDurationEnv("SEMAPHORE_TTL", 60*time.Second),
		DebounceWindow: getDurationEnv("DEBOUNCE_WINDOW", 10*time.Second),
		HistoryWindow:  getIntEnv("HISTORY_WINDOW", 20),

		QuotaDefault: int64(getIntEnv("QUOTA_DEFAULT", 100)),

		SilenceSweepCron: getEnv("SILENCE_SWEEP_CRON", "* * * * *"),
		RulesPath:        getEnv("RULES_PATH", "rules.yaml"),
		CalendarPath:     getEnv("CALENDAR_PATH", "calendar.xlsx"),
		AlertChannel:     getEnv("ALERT_CHANNEL", "operator_alerts"),
		ConsumerGroup:    getEnv("CONSUMER_GROUP", "engine"),
		ReclaimMinIdle:   getDurationEnv("RECLAIM_MIN_IDLE", 5*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
