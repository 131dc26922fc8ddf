package main

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/anatolykoptev/go-imagepref"
)

// config holds the CLI settings read from the environment.
type config struct {
	BaseURL      string
	DatabaseURL  string // empty = in-memory datasets
	RedisURL     string // empty = in-process LRU cache
	LogLevel     string
	CacheSize    int
	FetchRate    float64
	StartupDelay time.Duration
	Threshold    float64
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

// loadConfig reads IMAGEPREF_* variables, loading .env first when present.
func loadConfig() (*config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := &config{
		BaseURL:      getEnv("IMAGEPREF_BASE_URL", imagepref.DefaultBaseURL),
		DatabaseURL:  os.Getenv("IMAGEPREF_DATABASE_URL"),
		RedisURL:     os.Getenv("IMAGEPREF_REDIS_URL"),
		LogLevel:     getEnv("IMAGEPREF_LOG_LEVEL", "info"),
		CacheSize:    getEnvAsInt("IMAGEPREF_CACHE_SIZE", 4096),
		FetchRate:    getEnvAsFloat("IMAGEPREF_FETCH_RATE", 0),
		StartupDelay: getEnvAsDuration("IMAGEPREF_STARTUP_DELAY", imagepref.DefaultStartupDelay),
		Threshold:    getEnvAsFloat("IMAGEPREF_THRESHOLD", imagepref.DefaultConfidenceThreshold),
	}
	if cfg.RedisURL == "" {
		if addr := os.Getenv("IMAGEPREF_REDIS_ADDR"); addr != "" {
			cfg.RedisURL = "redis://" + addr
		}
	}

	if cfg.CacheSize <= 0 {
		return nil, errors.New("IMAGEPREF_CACHE_SIZE must be a positive integer")
	}
	if cfg.FetchRate < 0 {
		return nil, errors.New("IMAGEPREF_FETCH_RATE must not be negative")
	}
	if !imagepref.ValidThreshold(cfg.Threshold) {
		return nil, errors.New("IMAGEPREF_THRESHOLD must lie in [0,1]")
	}
	return cfg, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
