package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings of the ingestion pipeline and its commands.
// Values come from the environment, optionally seeded from a .env file.
type Config struct {
	// Core settings
	DatabasePath string
	LogLevel     string
	LogJSON      bool

	// File storage: a local root directory and an optional GCS bucket.
	StorageRoot string
	GCSBucket   string

	// Extraction settings
	PrimaryStrategy         string
	FallbackEnabled         bool
	GeminiModel             string
	GeminiAPIKey            string
	ExtractionTimeout       time.Duration
	ExtractionMaxInputChars int
	ExtractionMaxPages      int
	ExtractionRatePerMinute int

	// Normalization
	BaseCurrency string

	// State machine and workers
	MaxRetries      int
	WorkerCount     int
	QueueBuffer     int
	PollInterval    time.Duration
	StaleClaimAfter time.Duration

	// Categorization
	KeywordCacheTTL time.Duration

	// Audit sink; disabled when BigQueryProject is empty.
	BigQueryProject string
	BigQueryDataset string
}

const (
	StrategyPattern = "pattern"
	StrategyLLM     = "llm"
)

// Load reads configuration from a .env file (current or parent directory) and
// the process environment. A missing .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../.env")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabasePath: getEnv("DATABASE_PATH", "statements.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogJSON:      getEnvAsBool("LOG_JSON", false),

		StorageRoot: getEnv("STORAGE_ROOT", "./data"),
		GCSBucket:   getEnv("GCS_BUCKET", ""),

		PrimaryStrategy:         strings.ToLower(getEnv("EXTRACTION_PRIMARY_STRATEGY", StrategyPattern)),
		FallbackEnabled:         getEnvAsBool("EXTRACTION_FALLBACK_ENABLED", true),
		GeminiModel:             getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		ExtractionTimeout:       getEnvAsDuration("EXTRACTION_TIMEOUT", 120*time.Second),
		ExtractionMaxInputChars: getEnvAsInt("EXTRACTION_MAX_INPUT_CHARS", 60000),
		ExtractionMaxPages:      getEnvAsInt("EXTRACTION_MAX_PAGES", 5),
		ExtractionRatePerMinute: getEnvAsInt("EXTRACTION_RATE_PER_MINUTE", 10),

		BaseCurrency: strings.ToUpper(getEnv("BASE_CURRENCY", "PEN")),

		MaxRetries:      getEnvAsInt("MAX_RETRIES", 3),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 5),
		QueueBuffer:     getEnvAsInt("QUEUE_BUFFER", 100),
		PollInterval:    getEnvAsDuration("POLL_INTERVAL", 10*time.Second),
		StaleClaimAfter: getEnvAsDuration("STALE_CLAIM_AFTER", 15*time.Minute),

		KeywordCacheTTL: getEnvAsDuration("KEYWORD_CACHE_TTL", 5*time.Minute),

		BigQueryProject: getEnv("BIGQUERY_PROJECT", ""),
		BigQueryDataset: getEnv("BIGQUERY_DATASET", "statements"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum values and bounds.
func (c *Config) Validate() error {
	var errs []error

	switch c.PrimaryStrategy {
	case StrategyPattern, StrategyLLM:
	default:
		errs = append(errs, fmt.Errorf("EXTRACTION_PRIMARY_STRATEGY must be %q or %q, got %q", StrategyPattern, StrategyLLM, c.PrimaryStrategy))
	}
	if len(c.BaseCurrency) != 3 {
		errs = append(errs, fmt.Errorf("BASE_CURRENCY must be a 3-letter code, got %q", c.BaseCurrency))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must not be negative"))
	}
	if c.WorkerCount <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_COUNT must be positive"))
	}
	if c.QueueBuffer <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_BUFFER must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive"))
	}
	if c.ExtractionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("EXTRACTION_TIMEOUT must be positive"))
	}
	if c.ExtractionMaxInputChars <= 0 || c.ExtractionMaxPages <= 0 {
		errs = append(errs, fmt.Errorf("extraction input bounds must be positive"))
	}
	if c.ExtractionRatePerMinute <= 0 {
		errs = append(errs, fmt.Errorf("EXTRACTION_RATE_PER_MINUTE must be positive"))
	}

	return errors.Join(errs...)
}

// AuditEnabled reports whether the BigQuery audit sink is configured.
func (c *Config) AuditEnabled() bool {
	return c.BigQueryProject != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return b
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return fallback
}
