package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// ERP Service Layer
	ERPBaseURL     string
	ERPUser        string
	ERPPassword    string
	ERPTLSVerify   bool
	ERPTimeout     time.Duration
	ERPSessionTTL  time.Duration // must stay below the ERP's own 30 min expiry
	ERPMaxPageSize int
	ERPRateLimit   float64 // requests per second per tenant
	ERPRateBurst   int
	DefaultTenant  string

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	SalesPersonCacheTTL time.Duration
	RedisAddr           string
	RedisPassword       string
	RedisDB             int

	// Observability
	OTLPEndpoint string

	// JWT verification (tokens are issued by the CRM auth service)
	JWTSecret string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ERPBaseURL:     getEnv("ERP_BASE_URL", "https://localhost:50000/b1s/v1"),
		ERPUser:        getEnv("ERP_USER", ""),
		ERPPassword:    getEnv("ERP_PASSWORD", ""),
		ERPTLSVerify:   getEnv("ERP_TLS_VERIFY", "true") != "false",
		ERPTimeout:     getEnvDuration("ERP_TIMEOUT", 30*time.Second),
		ERPSessionTTL:  getEnvDuration("ERP_SESSION_TTL", 25*time.Minute),
		ERPMaxPageSize: getEnvInt("ERP_MAX_PAGE_SIZE", 500),
		ERPRateLimit:   getEnvFloat("ERP_RATE_LIMIT", 20),
		ERPRateBurst:   getEnvInt("ERP_RATE_BURST", 40),
		DefaultTenant:  getEnv("DEFAULT_TENANT", DefaultTenantCode),

		MaxRetries:     getEnvInt("MAX_RETRIES", 2),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 200*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		SalesPersonCacheTTL: getEnvDuration("SALESPERSON_CACHE_TTL", 30*time.Minute),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		JWTSecret: getEnv("JWT_SECRET", ""),
	}
}

// Validate reports configuration that would make the ERP integration unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.ERPUser == "" || c.ERPPassword == "" {
		errs = append(errs, errors.New("ERP_USER and ERP_PASSWORD are required"))
	}
	if c.ERPBaseURL == "" {
		errs = append(errs, errors.New("ERP_BASE_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if _, ok := LookupTenant(c.DefaultTenant); !ok {
		errs = append(errs, errors.New("DEFAULT_TENANT is not a configured tenant: "+c.DefaultTenant))
	}
	if c.ERPSessionTTL <= 0 || c.ERPSessionTTL >= 30*time.Minute {
		errs = append(errs, errors.New("ERP_SESSION_TTL must be positive and below 30m"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
