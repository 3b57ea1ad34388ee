// Package config provides configuration loading and validation for the
// accessrecon API server and CLI. It uses koanf to merge environment
// variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Stores. An empty DatabaseURL selects the in-memory stores and an empty
	// RedisURL selects the in-process locker.
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingExporter   string  `koanf:"tracing_exporter"` // otlp-http or otlp-grpc
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`

	// Reconciliation
	FlexExpiryInterval time.Duration `koanf:"flex_expiry_interval"` // 0 disables the sweep
	LockTTL            time.Duration `koanf:"lock_ttl"`
	IdempotencyTTL     time.Duration `koanf:"idempotency_ttl"` // 0 disables Idempotency-Key replay

	// Ticket export archive (S3-compatible, optional)
	ExportBucket          string `koanf:"export_bucket"`
	ExportEndpoint        string `koanf:"export_endpoint"`
	ExportAccessKeyID     string `koanf:"export_access_key_id"`
	ExportSecretAccessKey string `koanf:"export_secret_access_key"`
	ExportRegion          string `koanf:"export_region"`
}

// Configuration validation errors.
var (
	ErrInvalidPort                  = errors.New("PORT must be a valid port number")
	ErrInvalidDuration              = errors.New("value must be a valid duration")
	ErrInvalidFloat                 = errors.New("value must be a valid number")
	ErrInvalidSampleRate            = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidTracingExporter       = errors.New("TRACING_EXPORTER must be otlp-http or otlp-grpc")
	ErrInvalidLockTTL               = errors.New("LOCK_TTL must be positive")
	ErrInvalidFlexExpiryInterval    = errors.New("FLEX_EXPIRY_INTERVAL must not be negative")
	ErrInvalidIdempotencyTTL        = errors.New("IDEMPOTENCY_TTL must not be negative")
	ErrMissingExportBucket          = errors.New("EXPORT_BUCKET is required")
	ErrMissingExportAccessKeyID     = errors.New("EXPORT_ACCESS_KEY_ID is required")
	ErrMissingExportSecretAccessKey = errors.New("EXPORT_SECRET_ACCESS_KEY is required")
)

// Default values for non-secret configuration.
const (
	DefaultPort               = 8080
	DefaultEnv                = "development"
	DefaultTracingExporter    = "otlp-http"
	DefaultTracingSampleRate  = 0.1
	DefaultFlexExpiryInterval = time.Hour
	DefaultLockTTL            = 30 * time.Second
	DefaultIdempotencyTTL     = 24 * time.Hour
	DefaultExportRegion       = "auto"
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, err := getEnvIntOrDefaultMulti([]string{"ACCESSRECON_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	sampleRate, err := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k, "tracing_sample_rate", DefaultTracingSampleRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	expiry, err := getEnvDurationOrDefault("FLEX_EXPIRY_INTERVAL", k, "flex_expiry_interval", DefaultFlexExpiryInterval)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	lockTTL, err := getEnvDurationOrDefault("LOCK_TTL", k, "lock_ttl", DefaultLockTTL)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	idempotencyTTL, err := getEnvDurationOrDefault("IDEMPOTENCY_TTL", k, "idempotency_ttl", DefaultIdempotencyTTL)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Port:                  port,
		Env:                   getEnvOrDefaultMulti([]string{"ACCESSRECON_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:           getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:              getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		TracingEnabled:        getEnvBoolOrKoanf("TRACING_ENABLED", k, "tracing_enabled"),
		OTLPEndpoint:          getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
		TracingExporter:       getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingSampleRate:     sampleRate,
		FlexExpiryInterval:    expiry,
		LockTTL:               lockTTL,
		IdempotencyTTL:        idempotencyTTL,
		ExportBucket:          getEnvOrKoanf("EXPORT_BUCKET", k, "export_bucket"),
		ExportEndpoint:        getEnvOrKoanf("EXPORT_ENDPOINT", k, "export_endpoint"),
		ExportAccessKeyID:     getEnvOrKoanf("EXPORT_ACCESS_KEY_ID", k, "export_access_key_id"),
		ExportSecretAccessKey: getEnvOrKoanf("EXPORT_SECRET_ACCESS_KEY", k, "export_secret_access_key"),
		ExportRegion:          getEnvOrDefault("EXPORT_REGION", k.String("export_region"), DefaultExportRegion),
	}

	return cfg, append(loadErrs, cfg.Validate()...)
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	return getEnvOrDefaultMulti([]string{envKey}, koanfVal, defaultVal)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Note: a port of 0 in a YAML file falls back to the default.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

func getEnvBoolOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) bool {
	switch strings.ToLower(os.Getenv(envKey)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return k.Bool(koanfKey)
}

func getEnvFloatOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidFloat)
		}
		return f, nil
	}
	if k.Exists(koanfKey) {
		return k.Float64(koanfKey), nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault parses Go duration strings ("90s", "1h").
func getEnvDurationOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(envKey)
	if val == "" && k.Exists(koanfKey) {
		val = k.String(koanfKey)
	}
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", envKey, val, ErrInvalidDuration)
	}
	return d, nil
}

// Validate checks the configuration values.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}
	if c.TracingExporter != "otlp-http" && c.TracingExporter != "otlp-grpc" {
		errs = append(errs, ErrInvalidTracingExporter)
	}
	if c.LockTTL <= 0 {
		errs = append(errs, ErrInvalidLockTTL)
	}
	if c.FlexExpiryInterval < 0 {
		errs = append(errs, ErrInvalidFlexExpiryInterval)
	}
	if c.IdempotencyTTL < 0 {
		errs = append(errs, ErrInvalidIdempotencyTTL)
	}

	// The export archive is optional. Only validate fields if any value is set.
	if c.ExportBucket != "" || c.ExportAccessKeyID != "" || c.ExportSecretAccessKey != "" || c.ExportEndpoint != "" {
		if c.ExportBucket == "" {
			errs = append(errs, ErrMissingExportBucket)
		}
		if c.ExportAccessKeyID == "" {
			errs = append(errs, ErrMissingExportAccessKeyID)
		}
		if c.ExportSecretAccessKey == "" {
			errs = append(errs, ErrMissingExportSecretAccessKey)
		}
	}

	return errs
}

// ExportEnabled reports whether the ticket export archive is configured.
func (c *Config) ExportEnabled() bool {
	return c.ExportBucket != ""
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                     strconv.Itoa(c.Port),
		"env":                      c.Env,
		"database_url":             maskURL(c.DatabaseURL),
		"redis_url":                maskURL(c.RedisURL),
		"tracing_enabled":          strconv.FormatBool(c.TracingEnabled),
		"otlp_endpoint":            c.OTLPEndpoint,
		"tracing_exporter":         c.TracingExporter,
		"tracing_sample_rate":      strconv.FormatFloat(c.TracingSampleRate, 'f', -1, 64),
		"flex_expiry_interval":     c.FlexExpiryInterval.String(),
		"lock_ttl":                 c.LockTTL.String(),
		"idempotency_ttl":          c.IdempotencyTTL.String(),
		"export_bucket":            c.ExportBucket,
		"export_endpoint":          c.ExportEndpoint,
		"export_access_key_id":     maskSecret(c.ExportAccessKeyID),
		"export_secret_access_key": maskSecret(c.ExportSecretAccessKey),
		"export_region":            c.ExportRegion,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskURL masks the password in a postgres:// or redis:// URL.
func maskURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // no credentials
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // username only
	}

	return s[:schemeEnd+3] + rest[:colonIndex] + ":****" + rest[atIndex:]
}
