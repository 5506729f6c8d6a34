// Package config provides engine configuration loaded from environment
// variables with defaults and validation. It centralizes backend endpoint
// settings, cache and retention windows, scheduler timing, event-dispatch
// retry policy, logging, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the engine.
type Config struct {
	// Backend
	BaseURL      string        // INAPP_BASE_URL, e.g. https://api.example.com/v1
	APIKey       string        // INAPP_API_KEY, sent as X-Token
	HTTPTimeout  time.Duration // per-request client timeout
	CatalogLimit int           // page size for the catalog fetch

	// Cache / retention
	DBPath           string        // SQLite path
	CacheTTL         time.Duration // catalog cache hard expiry
	HistoryRetention time.Duration // display-history pruning window
	EventRetention   time.Duration // delivered pending-event retention

	// Scheduler
	RefreshInterval time.Duration // foreground re-evaluation period
	RouteRPS        float64       // route-change refresh tokens per second
	RouteBurst      int           // route-change refresh burst size

	// Event dispatch
	DispatchRetryDelay time.Duration // fixed delay between attempts
	DispatchRetries    int           // retries after the first attempt

	// Display
	SubscribeTimeout time.Duration // wait on the external subscription flow

	// Client identity (matched against audience filters)
	Locale    string // BCP 47 tag, e.g. "en-US"
	Device    string
	OS        string
	UserAgent string

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the environment (an optional .env file is
// merged first, without overriding real environment variables), applies
// defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		// Backend
		BaseURL:      strings.TrimRight(getenv("INAPP_BASE_URL", ""), "/"),
		APIKey:       getenv("INAPP_API_KEY", ""),
		HTTPTimeout:  getdur("INAPP_HTTP_TIMEOUT", 15*time.Second),
		CatalogLimit: getint("INAPP_CATALOG_LIMIT", 100),

		// Cache / retention
		DBPath:           getenv("INAPP_DB_PATH", "inapp.db"),
		CacheTTL:         getdur("INAPP_CACHE_TTL", 24*time.Hour),
		HistoryRetention: getdur("INAPP_HISTORY_RETENTION", 90*24*time.Hour),
		EventRetention:   getdur("INAPP_EVENT_RETENTION", 7*24*time.Hour),

		// Scheduler
		RefreshInterval: getdur("INAPP_REFRESH_INTERVAL", 60*time.Second),
		RouteRPS:        getfloat("INAPP_ROUTE_RPS", 1.0),
		RouteBurst:      getint("INAPP_ROUTE_BURST", 3),

		// Event dispatch
		DispatchRetryDelay: getdur("INAPP_DISPATCH_RETRY_DELAY", 2*time.Second),
		DispatchRetries:    getint("INAPP_DISPATCH_RETRIES", 2),

		// Display
		SubscribeTimeout: getdur("INAPP_SUBSCRIBE_TIMEOUT", 10*time.Second),

		// Client identity
		Locale:    getenv("INAPP_LOCALE", ""),
		Device:    getenv("INAPP_DEVICE", ""),
		OS:        getenv("INAPP_OS", ""),
		UserAgent: getenv("INAPP_USER_AGENT", ""),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-inapp-engine"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return cfg, errors.New("INAPP_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return cfg, errors.New("INAPP_API_KEY must not be empty")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("INAPP_DB_PATH must not be empty")
	}
	if cfg.HTTPTimeout <= 0 {
		return cfg, errors.New("INAPP_HTTP_TIMEOUT must be a positive duration")
	}
	if cfg.CatalogLimit < 1 {
		return cfg, errors.New("INAPP_CATALOG_LIMIT must be >= 1")
	}
	if cfg.CacheTTL <= 0 || cfg.HistoryRetention <= 0 || cfg.EventRetention <= 0 {
		return cfg, errors.New("cache and retention windows must be positive durations")
	}
	if cfg.RefreshInterval <= 0 {
		return cfg, errors.New("INAPP_REFRESH_INTERVAL must be a positive duration")
	}
	if cfg.RouteRPS <= 0 {
		return cfg, errors.New("INAPP_ROUTE_RPS must be > 0")
	}
	if cfg.RouteBurst < 1 {
		return cfg, errors.New("INAPP_ROUTE_BURST must be >= 1")
	}
	if cfg.DispatchRetryDelay < 0 {
		return cfg, errors.New("INAPP_DISPATCH_RETRY_DELAY must be >= 0")
	}
	if cfg.DispatchRetries < 0 {
		return cfg, errors.New("INAPP_DISPATCH_RETRIES must be >= 0")
	}
	if cfg.SubscribeTimeout <= 0 {
		return cfg, errors.New("INAPP_SUBSCRIBE_TIMEOUT must be a positive duration")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
