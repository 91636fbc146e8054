package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	DBHost      string
	DBPort      string
	DBUsername  string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	RedisAddr   string
	Port        string
	Timezone    string

	// CredentialsFile maps account credential references to provider
	// connection settings.
	CredentialsFile string
	// TrackingBaseURL is where open pixels and click redirects point.
	TrackingBaseURL string

	// Inbound sync
	QuickLoadWindow   int
	BackfillBatchSize int
	SyncFolders       []string
	TargetedStaleness time.Duration
	SweepStaleness    time.Duration
	SweepInterval     time.Duration

	// Outbound delivery
	DefaultBatchSize     int
	DefaultMaxConcurrent int
	DefaultBatchDelay    time.Duration
	MaxRetriesPerEmail   int
	SendRPSBudget        float64

	// Reliability
	BreakerThreshold      int
	BreakerRecoveryWindow time.Duration
	DailyQuotaLimit       int64
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILENGINE_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment: env,
		DBHost:      getEnvOrDefault("MAILENGINE_DB_HOST", "localhost"),
		DBPort:      getEnvOrDefault("MAILENGINE_DB_PORT", "5432"),
		DBUsername:  getEnvOrDefault("MAILENGINE_DB_USER", "mailengine"),
		DBPassword:  os.Getenv("MAILENGINE_DB_PASSWORD"),
		DBName:      getEnvOrDefault("MAILENGINE_DB_NAME", "mailengine"),
		DBSSLMode:   getEnvOrDefault("MAILENGINE_DB_SSLMODE", "disable"),
		RedisAddr:   os.Getenv("MAILENGINE_REDIS_ADDR"),
		Port:        getEnvOrDefault("PORT", "8080"),
		Timezone:    getEnvOrDefault("TZ", "UTC"),

		CredentialsFile: getEnvOrDefault("MAILENGINE_CREDENTIALS_FILE", "credentials.json"),
		TrackingBaseURL: os.Getenv("MAILENGINE_TRACKING_BASE_URL"),

		QuickLoadWindow:   getEnvInt("MAILENGINE_QUICK_LOAD_WINDOW", 50),
		BackfillBatchSize: getEnvInt("MAILENGINE_BACKFILL_BATCH_SIZE", 100),
		SyncFolders:       []string{"INBOX", "Sent"},
		TargetedStaleness: getEnvDuration("MAILENGINE_TARGETED_STALENESS", 2*time.Minute),
		SweepStaleness:    getEnvDuration("MAILENGINE_SWEEP_STALENESS", 5*time.Minute),
		SweepInterval:     getEnvDuration("MAILENGINE_SWEEP_INTERVAL", time.Minute),

		DefaultBatchSize:     getEnvInt("MAILENGINE_SEND_BATCH_SIZE", 25),
		DefaultMaxConcurrent: getEnvInt("MAILENGINE_SEND_MAX_CONCURRENT_BATCHES", 3),
		DefaultBatchDelay:    getEnvDuration("MAILENGINE_SEND_BATCH_DELAY", 2*time.Second),
		MaxRetriesPerEmail:   getEnvInt("MAILENGINE_SEND_MAX_RETRIES", 3),
		SendRPSBudget:        getEnvFloat("MAILENGINE_SEND_RPS_BUDGET", 10),

		BreakerThreshold:      getEnvInt("MAILENGINE_BREAKER_THRESHOLD", 5),
		BreakerRecoveryWindow: getEnvDuration("MAILENGINE_BREAKER_RECOVERY", 60*time.Second),
		DailyQuotaLimit:       int64(getEnvInt("MAILENGINE_DAILY_QUOTA", 10000)),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("MAILENGINE_DB_PASSWORD is required")
	}

	if c.QuickLoadWindow <= 0 {
		return fmt.Errorf("MAILENGINE_QUICK_LOAD_WINDOW must be positive")
	}

	if c.BackfillBatchSize <= 0 {
		return fmt.Errorf("MAILENGINE_BACKFILL_BATCH_SIZE must be positive")
	}

	if c.DailyQuotaLimit <= 0 {
		return fmt.Errorf("MAILENGINE_DAILY_QUOTA must be positive")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
