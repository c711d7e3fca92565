// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetDatabaseMaxConns() int32
	GetDatabaseMinConns() int32
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// PricingConfig provides settings for the tariffication provider client.
type PricingConfig interface {
	GetPricingStagingURL() string
	GetPricingProductionURL() string
	GetPricingSOAPAction() string
	GetPricingTimeout() time.Duration
	GetPricingRateLimit() float64
	GetPricingBurst() int
}

// OptimizerConfig provides the commission optimizer policy knobs.
type OptimizerConfig interface {
	GetOptimizerTolerancePct() string
	GetOptimizerCostWeight() string
	GetOptimizerMaxConcurrency() int
	GetOptimizerMaxCodesPerInsurer() int
}

// CatalogConfig provides the optional commission catalog override file.
type CatalogConfig interface {
	GetCommissionCatalogPath() string
}

// CacheConfig provides settings for the staging pricing cache.
type CacheConfig interface {
	GetRedisURL() string
	GetPricingCacheTTL() time.Duration
	IsPricingCacheEnabled() bool
}

// SchedulerConfig provides settings for the asynq-backed push verification queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetPushVerificationDelay() time.Duration
}

// ArchiveConfig provides settings for the provider exchange archive (MinIO).
type ArchiveConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketProviderArchive() string
	IsMinIOEnabled() bool
}

// BrokerSecretConfig provides the key used to decrypt broker licence keys at rest.
type BrokerSecretConfig interface {
	GetBrokerSecretKey() []byte
}

// PushConfig provides settings for the production push guard.
type PushConfig interface {
	GetPushClaimLease() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                         string
	HTTPAddr                    string
	DatabaseURL                 string
	DatabaseMaxConns            int
	DatabaseMinConns            int
	JWTAccessSecret             string
	CORSAllowAll                bool
	CORSOrigins                 []string
	CORSAllowCreds              bool
	PricingStagingURL           string
	PricingProductionURL        string
	PricingSOAPAction           string
	PricingTimeout              time.Duration
	PricingRateLimit            float64
	PricingBurst                int
	OptimizerTolerancePct       string
	OptimizerCostWeight         string
	OptimizerMaxConcurrency     int
	OptimizerMaxCodesPerInsurer int
	CommissionCatalogPath       string
	RedisURL                    string
	RedisTLSInsecure            bool
	PricingCacheTTL             time.Duration
	AsynqQueueName              string
	AsynqConcurrency            int
	PushVerificationDelay       time.Duration
	PushClaimLease              time.Duration
	MinIOEndpoint               string
	MinIOAccessKey              string
	MinIOSecretKey              string
	MinIOUseSSL                 bool
	MinioBucketProviderArchive  string
	BrokerSecretKey             []byte
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string     { return c.DatabaseURL }
func (c *Config) GetDatabaseMaxConns() int32 { return int32(c.DatabaseMaxConns) }
func (c *Config) GetDatabaseMinConns() int32 { return int32(c.DatabaseMinConns) }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// PricingConfig implementation
func (c *Config) GetPricingStagingURL() string     { return c.PricingStagingURL }
func (c *Config) GetPricingProductionURL() string  { return c.PricingProductionURL }
func (c *Config) GetPricingSOAPAction() string     { return c.PricingSOAPAction }
func (c *Config) GetPricingTimeout() time.Duration { return c.PricingTimeout }
func (c *Config) GetPricingRateLimit() float64     { return c.PricingRateLimit }
func (c *Config) GetPricingBurst() int             { return c.PricingBurst }

// OptimizerConfig implementation
func (c *Config) GetOptimizerTolerancePct() string    { return c.OptimizerTolerancePct }
func (c *Config) GetOptimizerCostWeight() string      { return c.OptimizerCostWeight }
func (c *Config) GetOptimizerMaxConcurrency() int     { return c.OptimizerMaxConcurrency }
func (c *Config) GetOptimizerMaxCodesPerInsurer() int { return c.OptimizerMaxCodesPerInsurer }

// CatalogConfig implementation
func (c *Config) GetCommissionCatalogPath() string { return c.CommissionCatalogPath }

// CacheConfig implementation
func (c *Config) GetRedisURL() string                { return c.RedisURL }
func (c *Config) GetPricingCacheTTL() time.Duration { return c.PricingCacheTTL }
func (c *Config) IsPricingCacheEnabled() bool {
	return c.RedisURL != "" && c.PricingCacheTTL > 0
}

// SchedulerConfig implementation
func (c *Config) GetRedisTLSInsecure() bool                { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string                { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int                 { return c.AsynqConcurrency }
func (c *Config) GetPushVerificationDelay() time.Duration { return c.PushVerificationDelay }

// PushConfig implementation
func (c *Config) GetPushClaimLease() time.Duration { return c.PushClaimLease }

// ArchiveConfig implementation
func (c *Config) GetMinIOEndpoint() string  { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool      { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketProviderArchive() string {
	return c.MinioBucketProviderArchive
}
func (c *Config) IsMinIOEnabled() bool { return c.MinIOEndpoint != "" }

// BrokerSecretConfig implementation
func (c *Config) GetBrokerSecretKey() []byte { return c.BrokerSecretKey }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                         getEnv("APP_ENV", "development"),
		HTTPAddr:                    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:                 getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:            mustInt(getEnv("DB_MAX_CONNS", "20")),
		DatabaseMinConns:            mustInt(getEnv("DB_MIN_CONNS", "2")),
		JWTAccessSecret:             getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:                corsAllowAll,
		CORSOrigins:                 corsOrigins,
		CORSAllowCreds:              strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		PricingStagingURL:           getEnv("PRICING_STAGING_URL", ""),
		PricingProductionURL:        getEnv("PRICING_PRODUCTION_URL", ""),
		PricingSOAPAction:           getEnv("PRICING_SOAP_ACTION", "urn:tarification#Tarifer"),
		PricingTimeout:              mustDuration(getEnv("PRICING_TIMEOUT", "30s")),
		PricingRateLimit:            mustFloat(getEnv("PRICING_RATE_LIMIT", "5")),
		PricingBurst:                mustInt(getEnv("PRICING_BURST", "10")),
		OptimizerTolerancePct:       getEnv("OPTIMIZER_TOLERANCE_PCT", "5"),
		OptimizerCostWeight:         getEnv("OPTIMIZER_COST_WEIGHT", "0.5"),
		OptimizerMaxConcurrency:     mustInt(getEnv("OPTIMIZER_MAX_CONCURRENCY", "4")),
		OptimizerMaxCodesPerInsurer: mustInt(getEnv("OPTIMIZER_MAX_CODES_PER_INSURER", "6")),
		CommissionCatalogPath:       getEnv("COMMISSION_CATALOG_PATH", ""),
		RedisURL:                    getEnv("REDIS_URL", ""),
		RedisTLSInsecure:            strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		PricingCacheTTL:             mustDuration(getEnv("PRICING_CACHE_TTL", "15m")),
		AsynqQueueName:              getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:            mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),
		PushVerificationDelay:       mustDuration(getEnv("PUSH_VERIFICATION_DELAY", "2m")),
		PushClaimLease:              mustDuration(getEnv("PUSH_CLAIM_LEASE", "5m")),
		MinIOEndpoint:               getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:              getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:              getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:                 strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketProviderArchive:  getEnv("MINIO_BUCKET_PROVIDER_ARCHIVE", "provider-exchanges"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.DatabaseMaxConns < 1 || cfg.DatabaseMinConns < 0 || cfg.DatabaseMinConns > cfg.DatabaseMaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, and DB_MAX_CONNS at least 1")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.PricingStagingURL == "" || cfg.PricingProductionURL == "" {
		return nil, fmt.Errorf("PRICING_STAGING_URL and PRICING_PRODUCTION_URL are required")
	}
	if cfg.PricingTimeout <= 0 {
		return nil, fmt.Errorf("PRICING_TIMEOUT must be a positive duration")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	key, err := hex.DecodeString(getEnv("BROKER_SECRET_KEY", ""))
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("BROKER_SECRET_KEY must be 64 hex characters")
	}
	cfg.BrokerSecretKey = key

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
