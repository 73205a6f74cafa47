package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the harvester binary.
type Config struct {
	Env         string
	HTTPAddr    string
	MetricsAddr string

	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	HarvestWorkers     int
	FetchTimeout       time.Duration
	FetchRetries       int
	FetchBackoff       time.Duration
	FetchRatePerSec    float64
	FetchBurst         int
	StalenessThreshold time.Duration
	RunDeadline        time.Duration
	RunLockTTL         time.Duration

	MeridianBaseURL string
	SuncoastBaseURL string
}

// Load creates a Config from environment variables with defaults.
func Load() *Config {
	return &Config{
		Env:         getEnv("ENV", "dev"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9091"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getEnvInt("REDIS_DB", 0),

		HarvestWorkers:     getEnvInt("HARVEST_WORKERS", 4),
		FetchTimeout:       getEnvDuration("FETCH_TIMEOUT", 15*time.Second),
		FetchRetries:       getEnvInt("FETCH_RETRIES", 3),
		FetchBackoff:       getEnvDuration("FETCH_BACKOFF", 500*time.Millisecond),
		FetchRatePerSec:    getEnvFloat("FETCH_RATE_PER_SEC", 2),
		FetchBurst:         getEnvInt("FETCH_BURST", 4),
		StalenessThreshold: getEnvDuration("STALENESS_THRESHOLD", 6*time.Hour),
		RunDeadline:        getEnvDuration("RUN_DEADLINE", 10*time.Minute),
		RunLockTTL:         getEnvDuration("RUN_LOCK_TTL", 15*time.Minute),

		MeridianBaseURL: getEnv("MERIDIAN_BASE_URL", "https://www.meridianbank.com.au/home-loans/rates"),
		SuncoastBaseURL: getEnv("SUNCOAST_BASE_URL", "https://api.suncoastlending.com.au"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
