package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// config aggregates runtime configuration for the binary.
type config struct {
	APIURL string
	Addr   string

	Store     string // file, redis or memory
	StoreFile string
	RedisURL  string
	RedisKey  string

	RequestTimeout  time.Duration
	RenewTimeout    time.Duration
	TokenExpirySkew time.Duration

	LogLevel       string
	MetricsEnabled bool
	AuditEnabled   bool
}

// loadConfig reads configuration from the environment, after merging a
// local .env file when one exists.
func loadConfig() (*config, error) {
	_ = godotenv.Load()

	cfg := &config{
		APIURL:         getEnv("QUICKFOOD_API_URL", "http://localhost:8000/api"),
		Addr:           getEnv("QUICKFOOD_ADDR", "127.0.0.1:3000"),
		Store:          strings.ToLower(getEnv("CREDENTIAL_STORE", "file")),
		StoreFile:      getEnv("CREDENTIAL_FILE", defaultCredentialFile()),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisKey:       os.Getenv("REDIS_KEY"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		AuditEnabled:   getEnvAsBool("AUDIT_ENABLED", true),
	}

	var err error
	if cfg.RequestTimeout, err = getEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RenewTimeout, err = getEnvAsDuration("RENEW_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.TokenExpirySkew, err = getEnvAsDuration("TOKEN_EXPIRY_SKEW", 5*time.Second); err != nil {
		return nil, err
	}

	switch cfg.Store {
	case "file", "memory":
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when CREDENTIAL_STORE=redis")
		}
	default:
		return nil, fmt.Errorf("invalid CREDENTIAL_STORE %q (want file, redis or memory)", cfg.Store)
	}
	return cfg, nil
}

func defaultCredentialFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".quickfood-session.json"
	}
	return filepath.Join(dir, "quickfood", "session.json")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
