package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the service needs from the environment. A local
// .env file is honored if present.
type Config struct {
	DBSource string
	Port     string
	Env      string

	// NatsURL is optional; empty disables lifecycle event publishing.
	NatsURL string

	// CompletionDelay is how long a new transaction stays PENDING before the
	// one-shot timer settles it.
	CompletionDelay time.Duration
	// SweepInterval is how often the reconciliation scheduler runs.
	SweepInterval time.Duration
	// StalenessThreshold is the age past which a PENDING transaction is
	// eligible for automatic settlement by the sweep.
	StalenessThreshold time.Duration

	// IdempotencyTTL is how long captured responses are replayable.
	IdempotencyTTL time.Duration
	// IdempotencySweep is how often expired entries are evicted.
	IdempotencySweep time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:           dbSource,
		Port:               getEnv("SERVER_PORT", "8080"),
		Env:                getEnv("ENVIRONMENT", "development"),
		NatsURL:            os.Getenv("NATS_URL"),
		CompletionDelay:    getDuration("COMPLETION_DELAY", time.Minute),
		SweepInterval:      getDuration("SWEEP_INTERVAL", 60*time.Second),
		StalenessThreshold: getDuration("STALENESS_THRESHOLD", time.Minute),
		IdempotencyTTL:     getDuration("IDEMPOTENCY_TTL", 10*time.Minute),
		IdempotencySweep:   getDuration("IDEMPOTENCY_SWEEP_INTERVAL", time.Hour),
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
