package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// We use a struct (not globals) so it's testable and explicit.
type Config struct {
	// Server
	ServerAddr string
	Env        string // "development" or "production"
	AppBaseURL string // allowed origin in production

	// Chat persistence: "json", "postgres", or "s3"
	StoreType   string
	StorePath   string // json store snapshot path
	DatabaseURL string // postgres store

	// S3-compatible store (any provider exposing the S3 API)
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Endpoint        string
	S3Bucket          string

	// Redis (for PubSub horizontal scaling)
	RedisURL   string // e.g., "redis://localhost:6379"
	PubSubType string // "memory" or "redis"

	// Media engine
	AnnouncedIP           string // public IP advertised in ICE candidates; empty = local dev
	MinWorkers            int    // 0 = engine default
	MaxWorkers            int    // 0 = logical CPU count
	DisconnectGracePeriod time.Duration

	// Rate limiting for connection attempts
	WSConnectsPerMin int
}

// Load reads configuration from environment variables.
// In production, these come from the host. In dev, from .env via docker-compose.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr: getEnvOrDefault("SERVER_ADDR", "0.0.0.0:8080"),
		Env:        getEnvOrDefault("APP_ENV", "development"),
		AppBaseURL: getEnvOrDefault("APP_BASE_URL", "http://localhost:5173"),

		StoreType:   getEnvOrDefault("STORE_TYPE", "json"),
		StorePath:   getEnvOrDefault("STORE_PATH", "data/messages.json"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3Region:          getEnvOrDefault("S3_REGION", "auto"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3Bucket:          os.Getenv("S3_BUCKET"),

		RedisURL:   os.Getenv("REDIS_URL"),
		PubSubType: getEnvOrDefault("PUBSUB_TYPE", "memory"),

		AnnouncedIP: os.Getenv("ANNOUNCED_IP"),
	}

	cfg.MinWorkers = getEnvInt("MIN_WORKERS", 0)
	cfg.MaxWorkers = getEnvInt("MAX_WORKERS", 0)
	cfg.WSConnectsPerMin = getEnvInt("WS_CONNECTS_PER_MIN", 60)

	graceSeconds := getEnvInt("DISCONNECT_GRACE_PERIOD", 7)
	cfg.DisconnectGracePeriod = time.Duration(graceSeconds) * time.Second

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreType {
	case "json":
		if c.StorePath == "" {
			return fmt.Errorf("STORE_PATH is required for the json store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case "s3":
		if c.S3Bucket == "" || c.S3AccessKeyID == "" || c.S3SecretAccessKey == "" {
			return fmt.Errorf("S3_BUCKET, S3_ACCESS_KEY_ID, and S3_SECRET_ACCESS_KEY are required for the s3 store")
		}
	default:
		return fmt.Errorf("unknown STORE_TYPE %q (want json, postgres, or s3)", c.StoreType)
	}

	switch c.PubSubType {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when PUBSUB_TYPE=redis")
		}
	default:
		return fmt.Errorf("unknown PUBSUB_TYPE %q (want memory or redis)", c.PubSubType)
	}

	if c.MinWorkers < 0 || c.MaxWorkers < 0 {
		return fmt.Errorf("MIN_WORKERS and MAX_WORKERS must not be negative")
	}
	if c.MaxWorkers > 0 && c.MinWorkers > c.MaxWorkers {
		return fmt.Errorf("MIN_WORKERS (%d) exceeds MAX_WORKERS (%d)", c.MinWorkers, c.MaxWorkers)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
