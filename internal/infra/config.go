package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SigningSecret     string
	StoragePath       string
	StorageBaseURL    string
	SignedURLTTL      time.Duration
	SignedURLCacheTTL time.Duration

	ImageProviderBaseURL string
	ImageProviderAPIKey  string

	PromptProvider string
	GeminiAPIKey   string
	GeminiModel    string
	GeminiBaseURL  string

	DispatchBatchSize   int
	DispatchConcurrency int
	PromptPollInterval  time.Duration
	ProgressInterval    time.Duration
	CleanupInterval     time.Duration

	Timeouts TimeoutConfig

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	CORSOrigins        []string
	RateLimitPerMinute int
}

// TimeoutConfig holds the age thresholds the reaper sweeps against,
// one per stuck state.
type TimeoutConfig struct {
	QueuedJob        time.Duration // queued with no claim
	SubmittedNoRef   time.Duration // submitted, provider id never recorded
	RunningNoRef     time.Duration // running, provider id never recorded
	SavingJob        time.Duration // saving the output
	StaleJob         time.Duration // catch-all for any non-terminal job
	PromptProcessing time.Duration // prompt job stuck in processing
	PromptQueued     time.Duration // prompt job queued long enough to boost
	PromptAbandoned  time.Duration // prompt job queued long enough to fail
}

// DefaultTimeouts returns the production threshold table.
func DefaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		QueuedJob:        2 * time.Minute,
		SubmittedNoRef:   90 * time.Second,
		RunningNoRef:     5 * time.Minute,
		SavingJob:        10 * time.Minute,
		StaleJob:         time.Hour,
		PromptProcessing: 30 * time.Minute,
		PromptQueued:     time.Hour,
		PromptAbandoned:  24 * time.Hour,
	}
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 1),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SigningSecret:     os.Getenv("SIGNING_SECRET"),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:    getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		SignedURLTTL:      time.Second * time.Duration(getEnvInt("SIGNED_URL_TTL_SECONDS", 3600)),
		SignedURLCacheTTL: time.Second * time.Duration(getEnvInt("SIGNED_URL_CACHE_TTL_SECONDS", 600)),

		ImageProviderBaseURL: getEnv("IMAGE_PROVIDER_BASE_URL", "https://api.imageprovider.example/v1"),
		ImageProviderAPIKey:  os.Getenv("IMAGE_PROVIDER_API_KEY"),

		PromptProvider: getEnv("PROMPT_PROVIDER", "gemini"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:  getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		DispatchBatchSize:   getEnvInt("DISPATCH_BATCH_SIZE", 10),
		DispatchConcurrency: getEnvInt("DISPATCH_CONCURRENCY", 4),
		PromptPollInterval:  time.Second * time.Duration(getEnvInt("PROMPT_POLL_INTERVAL_SECONDS", 2)),
		ProgressInterval:    time.Second * time.Duration(getEnvInt("PROGRESS_INTERVAL_SECONDS", 5)),
		CleanupInterval:     time.Second * time.Duration(getEnvInt("CLEANUP_INTERVAL_SECONDS", 60)),

		Timeouts: DefaultTimeouts(),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		CORSOrigins:        splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.DispatchBatchSize <= 0 {
		cfg.DispatchBatchSize = 10
	}
	if cfg.DispatchConcurrency <= 0 {
		cfg.DispatchConcurrency = 4
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
