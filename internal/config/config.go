// Package config provides centralized configuration management for the import service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Staging  StagingConfig
	Progress ProgressConfig
	Redis    RedisConfig
	Pebble   PebbleConfig
	Webhook  WebhookConfig
	Workers  WorkerConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown of HTTP and workers (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// CORSOrigins lists allowed browser origins; empty disables CORS headers.
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies catalog and queue migrations on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// ImportConfig holds ingestion job settings.
type ImportConfig struct {
	// BatchSize is the number of records per bulk upsert (default: 5000)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"5000"`

	// MaxAttempts bounds scheduler attempts for transient failures (default: 3)
	MaxAttempts int `env:"IMPORT_MAX_ATTEMPTS" default:"3"`

	// Timeout is the maximum duration of a single ingestion attempt (default: 30m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"30m"`

	// MaxFileSize is the maximum accepted upload size in bytes (default: 100MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrentUploads bounds parallel uploads being staged (default: 5)
	MaxConcurrentUploads int `env:"IMPORT_MAX_CONCURRENT_UPLOADS" default:"5"`

	// UploadWaitTime is how long a request waits for a staging slot (default: 30s)
	UploadWaitTime time.Duration `env:"IMPORT_UPLOAD_WAIT_TIME" default:"30s"`

	// UploadTimeout bounds reading one upload request body. It replaces the
	// server read timeout and request timeout on the submission route (default: 15m)
	UploadTimeout time.Duration `env:"IMPORT_UPLOAD_TIMEOUT" default:"15m"`
}

// StagingConfig holds temporary upload storage settings.
type StagingConfig struct {
	// Dir is where uploaded bytes live until their job finalizes.
	Dir string `env:"STAGING_DIR" default:"/tmp/catalogimport"`

	// MaxAge is how long an orphaned staged upload survives the janitor (default: 24h)
	MaxAge time.Duration `env:"STAGING_MAX_AGE" default:"24h"`

	// JanitorCron schedules the cleanup sweep (default: every 15 minutes)
	JanitorCron string `env:"JANITOR_CRON" default:"*/15 * * * *"`
}

// ProgressConfig selects and tunes the progress store.
type ProgressConfig struct {
	// Backend is one of: redis, pebble, memory (default: redis)
	Backend string `env:"PROGRESS_BACKEND" default:"redis"`

	// TTL is the lease on every snapshot write (default: 1h)
	TTL time.Duration `env:"PROGRESS_TTL" default:"1h"`
}

// RedisConfig holds the Redis connection used by the redis progress backend.
type RedisConfig struct {
	URL string `env:"REDIS_URL" envAlt:"BROKER_URL" default:"redis://localhost:6379/0"`
}

// PebbleConfig holds the on-disk store used by the pebble progress backend.
type PebbleConfig struct {
	Path string `env:"PEBBLE_PATH" default:"./data/progress"`
}

// WebhookConfig holds outbound delivery settings.
type WebhookConfig struct {
	// Timeout bounds a single POST (default: 10s)
	Timeout time.Duration `env:"WEBHOOK_TIMEOUT" default:"10s"`

	// MaxRetries is the number of retries after the first attempt (default: 5)
	MaxRetries int `env:"WEBHOOK_MAX_RETRIES" default:"5"`

	// BackoffBase is the exponential base; retry n waits base^n seconds (default: 2)
	BackoffBase int `env:"WEBHOOK_BACKOFF_BASE" default:"2"`

	// BufferSize is the outbound event channel capacity (default: 256)
	BufferSize int `env:"WEBHOOK_BUFFER_SIZE" default:"256"`

	// Source is the CloudEvents source attribute on deliveries.
	Source string `env:"WEBHOOK_SOURCE" default:"catalogimport"`
}

// WorkerConfig holds queue concurrency settings.
type WorkerConfig struct {
	ImportWorkers   int `env:"WORKERS_IMPORT" default:"4"`
	WebhookWorkers  int `env:"WORKERS_WEBHOOK" default:"10"`
	MaintenanceJobs int `env:"WORKERS_MAINTENANCE" default:"1"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for the import submission endpoint (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enforces X-API-Key on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
