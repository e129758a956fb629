package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value, ok := lookup(envName, field.Tag.Get("envAlt"))
		if !ok {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// lookup returns the first non-empty value of the primary or alternate variable.
func lookup(primary, alt string) (string, bool) {
	if v := os.Getenv(primary); v != "" {
		return v, true
	}
	if alt != "" {
		if v := os.Getenv(alt); v != "" {
			return v, true
		}
	}
	return "", false
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		var result []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Database.URL == "" {
		fail("DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		fail("DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		fail("DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		fail("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		fail("SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		fail("SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Import.BatchSize <= 0 {
		fail("IMPORT_BATCH_SIZE must be positive")
	}
	if c.Import.MaxAttempts <= 0 {
		fail("IMPORT_MAX_ATTEMPTS must be positive")
	}
	if c.Import.Timeout <= 0 {
		fail("IMPORT_TIMEOUT must be positive")
	}
	if c.Import.MaxFileSize <= 0 {
		fail("IMPORT_MAX_FILE_SIZE must be positive")
	}
	if c.Import.MaxConcurrentUploads <= 0 {
		fail("IMPORT_MAX_CONCURRENT_UPLOADS must be positive")
	}
	if c.Import.UploadWaitTime <= 0 {
		fail("IMPORT_UPLOAD_WAIT_TIME must be positive")
	}
	if c.Import.UploadTimeout <= 0 {
		fail("IMPORT_UPLOAD_TIMEOUT must be positive")
	}

	if c.Staging.Dir == "" {
		fail("STAGING_DIR is required")
	}
	if c.Staging.MaxAge <= 0 {
		fail("STAGING_MAX_AGE must be positive")
	}
	if !gronx.IsValid(c.Staging.JanitorCron) {
		fail("JANITOR_CRON (%q) is not a valid cron expression", c.Staging.JanitorCron)
	}

	switch strings.ToLower(c.Progress.Backend) {
	case "redis":
		if c.Redis.URL == "" {
			fail("REDIS_URL is required when PROGRESS_BACKEND=redis")
		}
	case "pebble":
		if c.Pebble.Path == "" {
			fail("PEBBLE_PATH is required when PROGRESS_BACKEND=pebble")
		}
	case "memory":
	default:
		fail("PROGRESS_BACKEND (%q) must be one of: redis, pebble, memory", c.Progress.Backend)
	}
	if c.Progress.TTL <= 0 {
		fail("PROGRESS_TTL must be positive")
	}

	if c.Webhook.Timeout <= 0 {
		fail("WEBHOOK_TIMEOUT must be positive")
	}
	if c.Webhook.MaxRetries < 0 {
		fail("WEBHOOK_MAX_RETRIES must be non-negative")
	}
	if c.Webhook.BackoffBase < 1 {
		fail("WEBHOOK_BACKOFF_BASE must be >= 1")
	}
	if c.Webhook.BufferSize <= 0 {
		fail("WEBHOOK_BUFFER_SIZE must be positive")
	}

	if c.Workers.ImportWorkers <= 0 || c.Workers.WebhookWorkers <= 0 || c.Workers.MaintenanceJobs <= 0 {
		fail("WORKERS_IMPORT, WORKERS_WEBHOOK and WORKERS_MAINTENANCE must be positive")
	}

	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		fail("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		fail("REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		fail("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		fail("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// Connection URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Import: {BatchSize: %d, MaxAttempts: %d, MaxFileSize: %d}, ",
		c.Import.BatchSize, c.Import.MaxAttempts, c.Import.MaxFileSize)
	fmt.Fprintf(&b, "Progress: {Backend: %q, TTL: %s}, ", c.Progress.Backend, c.Progress.TTL)
	fmt.Fprintf(&b, "Webhook: {Timeout: %s, MaxRetries: %d, BackoffBase: %d}, ",
		c.Webhook.Timeout, c.Webhook.MaxRetries, c.Webhook.BackoffBase)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
