package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the motiontrack server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Backend  BackendConfig
	Health   HealthConfig
	Poller   PollerConfig
	Cache    CacheConfig
	Media    MediaConfig
}

type ServerConfig struct {
	Port              int
	Env               string
	RequestsPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// BackendConfig describes the external analysis service.
type BackendConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	SubmitRate  float64
	SubmitBurst int
}

type HealthConfig struct {
	Interval        time.Duration
	Timeout         time.Duration
	OverloadLatency time.Duration
}

type PollerConfig struct {
	Interval time.Duration
}

type CacheConfig struct {
	MemoryTTL     time.Duration
	PersistentTTL time.Duration
	EvictInterval time.Duration
	MaxPersisted  int
}

type MediaConfig struct {
	StreamCustomerDomain string
	FallbackVideoURL     string
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:              envInt("MOTIONTRACK_PORT", 8080),
			Env:               envString("MOTIONTRACK_ENV", "development"),
			RequestsPerMinute: envInt("API_REQUESTS_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Backend: BackendConfig{
			BaseURL:     strings.TrimSuffix(os.Getenv("ANALYSIS_API_URL"), "/"),
			Timeout:     envDuration("ANALYSIS_API_TIMEOUT", 30*time.Second),
			MaxRetries:  envInt("SUBMIT_MAX_RETRIES", 3),
			SubmitRate:  envFloat("SUBMIT_RATE_PER_SEC", 2),
			SubmitBurst: envInt("SUBMIT_RATE_BURST", 4),
		},
		Health: HealthConfig{
			Interval:        envDuration("HEALTH_CHECK_INTERVAL", 2*time.Minute),
			Timeout:         envDuration("HEALTH_CHECK_TIMEOUT", 10*time.Second),
			OverloadLatency: envDuration("HEALTH_OVERLOAD_LATENCY", 5*time.Second),
		},
		Poller: PollerConfig{
			Interval: envDuration("POLL_INTERVAL", 5*time.Second),
		},
		Cache: CacheConfig{
			MemoryTTL:     envDuration("CACHE_MEMORY_TTL", 30*time.Minute),
			PersistentTTL: envDuration("CACHE_PERSISTENT_TTL", 24*time.Hour),
			EvictInterval: envDuration("CACHE_EVICT_INTERVAL", 5*time.Minute),
			MaxPersisted:  envInt("CACHE_MAX_PERSISTED", 500),
		},
		Media: MediaConfig{
			StreamCustomerDomain: os.Getenv("STREAM_CUSTOMER_DOMAIN"),
			FallbackVideoURL:     envString("FALLBACK_VIDEO_URL", "/videos/unavailable.mp4"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("ANALYSIS_API_URL is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("ANALYSIS_API_URL must start with http:// or https://, got %q", c.Backend.BaseURL)
	}
	if c.Backend.MaxRetries < 1 {
		return fmt.Errorf("SUBMIT_MAX_RETRIES must be at least 1, got %d", c.Backend.MaxRetries)
	}
	if c.Backend.SubmitRate <= 0 || c.Backend.SubmitBurst < 1 {
		return fmt.Errorf("SUBMIT_RATE_PER_SEC and SUBMIT_RATE_BURST must be positive")
	}

	if c.Health.Timeout <= 0 || c.Health.Interval <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL and HEALTH_CHECK_TIMEOUT must be positive")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}

	if c.Cache.MemoryTTL <= 0 || c.Cache.PersistentTTL <= 0 {
		return fmt.Errorf("CACHE_MEMORY_TTL and CACHE_PERSISTENT_TTL must be positive")
	}
	if c.Cache.MemoryTTL > c.Cache.PersistentTTL {
		return fmt.Errorf("CACHE_MEMORY_TTL (%s) must not exceed CACHE_PERSISTENT_TTL (%s)",
			c.Cache.MemoryTTL, c.Cache.PersistentTTL)
	}
	if c.Cache.EvictInterval <= 0 {
		return fmt.Errorf("CACHE_EVICT_INTERVAL must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
