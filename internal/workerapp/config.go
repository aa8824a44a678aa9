package workerapp

import (
	"strconv"
	"strings"
	"time"
)

// Config assembles the three fleet components from environment
// variables, the way cmd/inference's config.Load reads NB_* overrides
// over a set of defaults. There is no JSON config file here: a worker
// host is meant to be configured entirely by its process environment.
type Config struct {
	Env string

	// RedisAddr selects the jobqueue backend. Empty uses the in-process
	// MemoryStore, suitable for a single-instance demo/dev run.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerMaxRetries   int
	WorkerRetryDelay   time.Duration

	CollectorEndpoint string
	CollectorInsecure bool
}

func defaultConfig() Config {
	return Config{
		Env:                "development",
		WorkerConcurrency:  4,
		WorkerPollInterval: time.Second,
		WorkerMaxRetries:   3,
		WorkerRetryDelay:   5 * time.Second,
	}
}

// LoadConfig reads CORELIB_* environment overrides on top of the
// defaults above.
func LoadConfig(getenv func(string) string) Config {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	cfg := defaultConfig()

	if v := strings.TrimSpace(getenv("CORELIB_ENV")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(getenv("CORELIB_REDIS_ADDR")); v != "" {
		cfg.RedisAddr = v
	}
	if v := strings.TrimSpace(getenv("CORELIB_REDIS_PASSWORD")); v != "" {
		cfg.RedisPassword = v
	}
	if v := strings.TrimSpace(getenv("CORELIB_REDIS_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := strings.TrimSpace(getenv("CORELIB_WORKER_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WorkerConcurrency = n
		}
	}
	if v := strings.TrimSpace(getenv("CORELIB_WORKER_POLL_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WorkerPollInterval = d
		}
	}
	if v := strings.TrimSpace(getenv("CORELIB_WORKER_MAX_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.WorkerMaxRetries = n
		}
	}
	if v := strings.TrimSpace(getenv("CORELIB_WORKER_RETRY_DELAY")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WorkerRetryDelay = d
		}
	}
	if v := strings.TrimSpace(getenv("CORELIB_COLLECTOR_ENDPOINT")); v != "" {
		cfg.CollectorEndpoint = v
	}
	if v := strings.TrimSpace(getenv("CORELIB_COLLECTOR_INSECURE")); v != "" {
		cfg.CollectorInsecure = parseBool(v)
	}

	return cfg
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	default:
		return false
	}
}
