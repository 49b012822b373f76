// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits with an error.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Repositories selects the storage backend.
type Repositories string

const (
	RepositoriesPG       Repositories = "PG"
	RepositoriesInMemory Repositories = "IN_MEMORY"
)

// Config holds all runtime configuration for the establishment service.
type Config struct {
	Port          string
	Repositories  Repositories
	DatabaseURL   string
	RedisURL      string
	RunMigrations bool
	LogLevel      string
	LogFormat     string

	JobBoardURL      string
	JobBoardAPIKey   string
	JobBoardTimeout  time.Duration
	JobBoardCacheTTL time.Duration
	GeocodingURL     string

	SearchabilityCron      string
	ExternalCrawlCron      string
	SuggestUpdateCron      string
	SuggestUpdateAfterDays int
}

// Load reads an optional .env file, then the environment, and returns a
// validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:              stringEnv("PORT", "8080"),
		Repositories:      Repositories(stringEnv("REPOSITORIES", string(RepositoriesInMemory))),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		LogLevel:          stringEnv("LOG_LEVEL", "info"),
		LogFormat:         stringEnv("LOG_FORMAT", "json"),
		JobBoardURL:       os.Getenv("JOB_BOARD_URL"),
		JobBoardAPIKey:    os.Getenv("JOB_BOARD_API_KEY"),
		GeocodingURL:      stringEnv("GEOCODING_URL", "https://api-adresse.data.gouv.fr"),
		SearchabilityCron: stringEnv("SEARCHABILITY_CRON", "@every 1h"),
		ExternalCrawlCron: stringEnv("EXTERNAL_CRAWL_CRON", "@every 6h"),
		SuggestUpdateCron: stringEnv("SUGGEST_UPDATE_CRON", "@daily"),
	}

	switch cfg.Repositories {
	case RepositoriesPG:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when REPOSITORIES=PG")
		}
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when REPOSITORIES=PG")
		}
	case RepositoriesInMemory:
	default:
		return nil, fmt.Errorf("REPOSITORIES must be PG or IN_MEMORY, got %q", cfg.Repositories)
	}

	var err error
	if cfg.RunMigrations, err = boolEnv("RUN_MIGRATIONS", true); err != nil {
		return nil, err
	}
	timeoutMs, err := positiveIntEnv("JOB_BOARD_TIMEOUT_MS", 5000)
	if err != nil {
		return nil, err
	}
	cfg.JobBoardTimeout = time.Duration(timeoutMs) * time.Millisecond
	ttlMinutes, err := positiveIntEnv("JOB_BOARD_CACHE_TTL_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	cfg.JobBoardCacheTTL = time.Duration(ttlMinutes) * time.Minute
	if cfg.SuggestUpdateAfterDays, err = positiveIntEnv("SUGGEST_UPDATE_AFTER_DAYS", 180); err != nil {
		return nil, err
	}

	return cfg, nil
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func positiveIntEnv(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, s)
	}
	return v, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, s)
	}
	return v, nil
}
