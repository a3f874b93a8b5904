package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Results source selection values for RESULTS_SOURCE.
const (
	ResultsSourceAPI      = "api"
	ResultsSourcePostgres = "postgres"
)

type Config struct {
	AppEnv                  string
	Port                    string
	LogLevel                string
	LogFormat               string
	ResultsSource           string
	PollAPIURL              string
	DatabaseURL             string
	NATSURL                 string
	MaxSubscriptionsPerConn int
}

func Load() (*Config, error) {
	// Best effort: a missing .env file is fine outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		ResultsSource: getEnv("RESULTS_SOURCE", ResultsSourceAPI),
		PollAPIURL:    getEnv("POLL_API_URL", ""),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		NATSURL:       getEnv("NATS_URL", ""),
	}

	maxSubs, err := getEnvInt("MAX_SUBSCRIPTIONS_PER_CONN", 100)
	if err != nil {
		return nil, err
	}
	if maxSubs <= 0 {
		return nil, fmt.Errorf("MAX_SUBSCRIPTIONS_PER_CONN must be positive, got %d", maxSubs)
	}
	cfg.MaxSubscriptionsPerConn = maxSubs

	switch cfg.ResultsSource {
	case ResultsSourceAPI:
		if cfg.PollAPIURL == "" {
			return nil, fmt.Errorf("POLL_API_URL is required when RESULTS_SOURCE is %q", ResultsSourceAPI)
		}
	case ResultsSourcePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when RESULTS_SOURCE is %q", ResultsSourcePostgres)
		}
	default:
		return nil, fmt.Errorf("RESULTS_SOURCE must be %q or %q, got %q", ResultsSourceAPI, ResultsSourcePostgres, cfg.ResultsSource)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}
