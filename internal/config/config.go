// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	DBPath        string
	LogLevel      string
	MaxFrameBytes int
	Engine        EngineConfig
	Relay         RelayConfig
	Telemetry     TelemetryConfig
	Retry         RetryConfig
}

// EngineConfig tunes the focus session engine.
type EngineConfig struct {
	ClosedThreshold      time.Duration
	CooldownRelease      time.Duration
	SleepTimePerIncident time.Duration
	AlertAutoStop        time.Duration
	TickInterval         time.Duration
	CameraTimeout        time.Duration
	BrightnessThreshold  float64
	ContrastThreshold    float64
}

// RelayConfig points at the optional desktop notification relay.
type RelayConfig struct {
	Addr string
}

// Enabled reports whether a relay address is configured.
func (r RelayConfig) Enabled() bool {
	return r.Addr != ""
}

// TelemetryConfig controls OTLP metrics export.
type TelemetryConfig struct {
	Enabled  bool
	Endpoint string
	Insecure bool
	Interval time.Duration
}

// RetryConfig controls retries of SQLite writes that hit lock contention.
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", defaultDBPath()),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		MaxFrameBytes: getEnvInt("MAX_FRAME_BYTES", 8<<20),
		Engine: EngineConfig{
			ClosedThreshold:      getEnvDuration("CLOSED_THRESHOLD", 5*time.Second),
			CooldownRelease:      getEnvDuration("COOLDOWN_RELEASE", time.Second),
			SleepTimePerIncident: getEnvDuration("SLEEP_TIME_PER_INCIDENT", 5*time.Second),
			AlertAutoStop:        getEnvDuration("ALERT_AUTO_STOP", 20*time.Second),
			TickInterval:         getEnvDuration("SESSION_TICK", time.Second),
			CameraTimeout:        getEnvDuration("CAMERA_TIMEOUT", 30*time.Second),
			BrightnessThreshold:  getEnvFloat("BRIGHTNESS_THRESHOLD", 75),
			ContrastThreshold:    getEnvFloat("CONTRAST_THRESHOLD", 15),
		},
		Relay: RelayConfig{
			Addr: getEnv("NOTIFY_RELAY_ADDR", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:  getEnvBool("OTEL_ENABLED", false),
			Endpoint: getEnv("OTEL_ENDPOINT", ""),
			Insecure: getEnvBool("OTEL_INSECURE", true),
			Interval: getEnvDuration("OTEL_EXPORT_INTERVAL", 30*time.Second),
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxFrameBytes <= 8 {
		return fmt.Errorf("MAX_FRAME_BYTES must be > 8")
	}
	if c.Engine.ClosedThreshold <= 0 {
		return fmt.Errorf("CLOSED_THRESHOLD must be > 0")
	}
	if c.Engine.CooldownRelease <= 0 {
		return fmt.Errorf("COOLDOWN_RELEASE must be > 0")
	}
	if c.Engine.SleepTimePerIncident < 0 {
		return fmt.Errorf("SLEEP_TIME_PER_INCIDENT must be >= 0")
	}
	if c.Engine.AlertAutoStop <= 0 {
		return fmt.Errorf("ALERT_AUTO_STOP must be > 0")
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("SESSION_TICK must be > 0")
	}
	if c.Engine.CameraTimeout <= 0 {
		return fmt.Errorf("CAMERA_TIMEOUT must be > 0")
	}
	if c.Engine.BrightnessThreshold <= 0 || c.Engine.ContrastThreshold <= 0 {
		return fmt.Errorf("BRIGHTNESS_THRESHOLD and CONTRAST_THRESHOLD must be > 0")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("OTEL_ENDPOINT is required when OTEL_ENABLED is set")
	}
	if c.Retry.DatabaseMaxRetries <= 0 {
		return fmt.Errorf("DB_MAX_RETRIES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func defaultDBPath() string {
	if IsContainer() {
		return "/data/focusforge.db"
	}
	return "./data/focusforge.db"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("1.5").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

// IsContainer returns true if running inside a container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
