package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the OfferPath application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Geo       GeoConfig
	Tracking  TrackingConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled bool
	// RPS/Burst cover the hot tracking paths; MgmtRPS/MgmtBurst cover
	// the dashboard and catalog endpoints.
	RPS       float64
	Burst     int
	MgmtRPS   float64
	MgmtBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP enrichment of click events.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// TrackingConfig holds the click-to-conversion pipeline settings.
type TrackingConfig struct {
	// DefaultWindowDays is the trailing EPC window used by the ranker
	// and the conversion write-back path.
	DefaultWindowDays int
	SessionTTL        time.Duration
	PixelBaseURL      string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("OFFERPATH_HTTP_ADDR", ":8080"),
			Env:             getEnv("OFFERPATH_ENV", "development"),
			ShutdownTimeout: getDurationEnv("OFFERPATH_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("OFFERPATH_DB_HOST", "localhost"),
			Port:     getIntEnv("OFFERPATH_DB_PORT", 5432),
			User:     getEnv("OFFERPATH_DB_USER", "offerpath"),
			Password: getEnv("OFFERPATH_DB_PASSWORD", "offerpath_secret"),
			DBName:   getEnv("OFFERPATH_DB_NAME", "offerpath"),
			SSLMode:  getEnv("OFFERPATH_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("OFFERPATH_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("OFFERPATH_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("OFFERPATH_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("OFFERPATH_REDIS_PASSWORD", ""),
			DB:       getIntEnv("OFFERPATH_REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:   getBoolEnv("OFFERPATH_RATE_LIMIT_ENABLED", true),
			RPS:       getFloatEnv("OFFERPATH_RATE_LIMIT_RPS", 1000),
			Burst:     getIntEnv("OFFERPATH_RATE_LIMIT_BURST", 100),
			MgmtRPS:   getFloatEnv("OFFERPATH_RATE_LIMIT_MGMT_RPS", 100),
			MgmtBurst: getIntEnv("OFFERPATH_RATE_LIMIT_MGMT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("OFFERPATH_LOG_LEVEL", "info"),
			Format: getEnv("OFFERPATH_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("OFFERPATH_METRICS_ENABLED", true),
			Path:    getEnv("OFFERPATH_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("OFFERPATH_GEO_ENABLED", false),
			DatabasePath: getEnv("OFFERPATH_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
		},
		Tracking: TrackingConfig{
			DefaultWindowDays: getIntEnv("OFFERPATH_EPC_WINDOW_DAYS", 7),
			SessionTTL:        getDurationEnv("OFFERPATH_SESSION_TTL", 2*time.Hour),
			PixelBaseURL:      getEnv("OFFERPATH_PIXEL_BASE_URL", "https://t.offerpath.io/i.gif"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Tracking.DefaultWindowDays <= 0 {
		return fmt.Errorf("OFFERPATH_EPC_WINDOW_DAYS must be positive")
	}
	if c.Geo.Enabled && c.Geo.DatabasePath == "" {
		return fmt.Errorf("OFFERPATH_GEO_DB_PATH is required when geo is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
