package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/orgrollup/pkg/crm"
	"github.com/platinummonkey/orgrollup/pkg/observability"
	"github.com/platinummonkey/orgrollup/pkg/ratelimit"
	"github.com/platinummonkey/orgrollup/pkg/rollup"
)

// Config holds all application configuration
type Config struct {
	// CRM client configuration
	CRM crm.Config

	// FieldsFile is an optional YAML file overriding the CRM custom-field keys
	FieldsFile string

	// Rollup run configuration
	Rollup rollup.Options

	// RateLimit configures the fixed-interval pause on CRM calls
	RateLimit ratelimit.Config

	// Scheduler configuration
	Scheduler SchedulerConfig

	// Server configuration
	Server ServerConfig

	// Redis configuration
	Redis RedisConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// SchedulerConfig holds the cron trigger settings
type SchedulerConfig struct {
	Enabled  bool
	Schedule string
	// RunOnStart triggers one rollup as soon as the scheduler starts
	RunOnStart bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled         bool
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// RedisConfig holds the optional Redis coordination settings. When URL is
// empty the limiter and run guard stay in process.
type RedisConfig struct {
	URL       string
	KeyPrefix string
	LockTTL   time.Duration
	// CounterTTL bounds how long a shared call count survives between calls
	CounterTTL time.Duration
}

// Enabled reports whether Redis coordination is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		CRM:           loadCRMConfig(),
		FieldsFile:    getEnv("ORGROLLUP_FIELDS_FILE", ""),
		Rollup:        loadRollupOptions(),
		RateLimit:     loadRateLimitConfig(),
		Scheduler:     loadSchedulerConfig(),
		Server:        loadServerConfig(),
		Redis:         loadRedisConfig(),
		Observability: loadObservabilityConfig(),
	}

	if cfg.FieldsFile != "" {
		fields, err := crm.LoadFieldMapping(cfg.FieldsFile)
		if err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		cfg.CRM.Fields = fields
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadCRMConfig loads CRM client configuration from environment
func loadCRMConfig() crm.Config {
	cfg := crm.DefaultConfig()

	cfg.BaseURL = getEnv("ORGROLLUP_CRM_BASE_URL", cfg.BaseURL)
	// PIPEDRIVE_API_KEY_ORG is the variable name used by existing deployments
	cfg.APIToken = getEnv("ORGROLLUP_CRM_API_TOKEN", getEnv("PIPEDRIVE_API_KEY_ORG", ""))
	cfg.AccessToken = getEnv("ORGROLLUP_CRM_ACCESS_TOKEN", "")
	cfg.Timeout = getEnvDuration("ORGROLLUP_CRM_TIMEOUT", cfg.Timeout)

	cfg.Retry.MaxAttempts = getEnvInt("ORGROLLUP_CRM_RETRY_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.InitialDelay = getEnvDuration("ORGROLLUP_CRM_RETRY_INITIAL_DELAY", cfg.Retry.InitialDelay)
	cfg.Retry.MaxDelay = getEnvDuration("ORGROLLUP_CRM_RETRY_MAX_DELAY", cfg.Retry.MaxDelay)

	return cfg
}

// loadRollupOptions loads rollup run options from environment
func loadRollupOptions() rollup.Options {
	opts := rollup.DefaultOptions()

	opts.PageSize = getEnvInt("ORGROLLUP_PAGE_SIZE", opts.PageSize)
	opts.Start = getEnvInt("ORGROLLUP_START", opts.Start)
	opts.IncludeOriginInRollup = getEnvBool("ORGROLLUP_INCLUDE_ORIGIN", opts.IncludeOriginInRollup)
	opts.FetchConcurrency = getEnvInt("ORGROLLUP_FETCH_CONCURRENCY", opts.FetchConcurrency)

	return opts
}

// loadRateLimitConfig loads rate limiter configuration from environment
func loadRateLimitConfig() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()

	cfg.Every = getEnvInt("ORGROLLUP_RATE_LIMIT_EVERY", cfg.Every)
	cfg.Pause = getEnvDuration("ORGROLLUP_RATE_LIMIT_PAUSE", cfg.Pause)

	return cfg
}

// loadSchedulerConfig loads scheduler configuration from environment
func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:    getEnvBool("ORGROLLUP_SCHEDULE_ENABLED", true),
		Schedule:   getEnv("ORGROLLUP_SCHEDULE", "1 0 * * *"),
		RunOnStart: getEnvBool("ORGROLLUP_RUN_ON_START", false),
	}
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Enabled:         getEnvBool("ORGROLLUP_HTTP_ENABLED", true),
		Host:            getEnv("ORGROLLUP_HOST", "0.0.0.0"),
		Port:            getEnv("ORGROLLUP_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ORGROLLUP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ORGROLLUP_WRITE_TIMEOUT", 10*time.Minute),
		IdleTimeout:     getEnvDuration("ORGROLLUP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ORGROLLUP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("ORGROLLUP_REDIS_URL", ""),
		KeyPrefix:  getEnv("ORGROLLUP_REDIS_KEY_PREFIX", "orgrollup"),
		LockTTL:    getEnvDuration("ORGROLLUP_LOCK_TTL", 5*time.Minute),
		CounterTTL: getEnvDuration("ORGROLLUP_COUNTER_TTL", time.Hour),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("ORGROLLUP_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ORGROLLUP_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ORGROLLUP_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ORGROLLUP_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ORGROLLUP_OTEL_SERVICE_NAME", "orgrollup"),
		OTelServiceVersion: getEnv("ORGROLLUP_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ORGROLLUP_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate CRM config
	if c.CRM.BaseURL == "" {
		return fmt.Errorf("CRM base URL is required")
	}
	if c.CRM.APIToken == "" && c.CRM.AccessToken == "" {
		return fmt.Errorf("CRM API token or access token is required")
	}
	if err := c.CRM.Fields.Validate(); err != nil {
		return err
	}

	// Validate rollup options
	if c.Rollup.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.Rollup.Start < 0 {
		return fmt.Errorf("start offset must not be negative")
	}
	if c.Rollup.FetchConcurrency < 0 {
		return fmt.Errorf("fetch concurrency must not be negative")
	}

	// Validate rate limit config
	if c.RateLimit.Every <= 0 {
		return fmt.Errorf("rate limit interval must be positive")
	}
	if c.RateLimit.Pause < 0 {
		return fmt.Errorf("rate limit pause must not be negative")
	}

	// Validate triggers
	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.Scheduler.Schedule, err)
		}
	}
	if c.Server.Enabled && c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	// Validate Redis config
	if c.Redis.Enabled() && c.Redis.LockTTL <= 0 {
		return fmt.Errorf("run lock TTL must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
