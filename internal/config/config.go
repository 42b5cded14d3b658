// Package config provides configuration loading for focusd.
//
// Configuration is read from a YAML file, overridden by environment
// variables, then completed with defaults and validated.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the complete focusd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Store         StoreConfig         `koanf:"store"`
	Daily         DailyConfig         `koanf:"daily"`
	NATS          NATSConfig          `koanf:"nats"`
	Clock         ClockConfig         `koanf:"clock"`
	Auth          AuthConfig          `koanf:"auth"`
	Scrub         ScrubConfig         `koanf:"scrub"`
	Templates     TemplatesConfig     `koanf:"templates"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// APIToken authenticates operator tools such as focusctl.
	APIToken Secret `koanf:"api_token"`
}

// LoggingConfig is the flat logging section; logging.FromSettings expands it.
type LoggingConfig struct {
	Level           string `koanf:"level"`
	Format          string `koanf:"format"`
	OTEL            bool   `koanf:"otel"`
	DisableSampling bool   `koanf:"disable_sampling"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// StoreConfig holds SQLite settings.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// DailyConfig holds Daily.co REST API settings. An empty APIKey disables
// room provisioning.
type DailyConfig struct {
	APIKey     Secret   `koanf:"api_key"`
	BaseURL    string   `koanf:"base_url"`
	RoomTTL    Duration `koanf:"room_ttl"`
	Privacy    string   `koanf:"privacy"`
	Recording  string   `koanf:"recording"`
	Timeout    Duration `koanf:"timeout"`
	RateLimit  float64  `koanf:"rate_limit"`
	Burst      int      `koanf:"burst"`
	MaxRetries int      `koanf:"max_retries"`
}

// NATSConfig selects an external NATS server or an embedded one.
type NATSConfig struct {
	URL       string   `koanf:"url"`
	Embedded  bool     `koanf:"embedded"`
	Host      string   `koanf:"host"`
	Port      int      `koanf:"port"`
	Heartbeat Duration `koanf:"heartbeat"`
}

// ClockConfig controls the per-session stage tickers.
type ClockConfig struct {
	Mode     string   `koanf:"mode"`
	Interval Duration `koanf:"interval"`
}

// AuthConfig holds OAuth login settings. An empty ClientID disables login.
type AuthConfig struct {
	Provider     string   `koanf:"provider"`
	ClientID     string   `koanf:"client_id"`
	ClientSecret Secret   `koanf:"client_secret"`
	RedirectURL  string   `koanf:"redirect_url"`
	Scopes       []string `koanf:"scopes"`
	TokenTTL     Duration `koanf:"token_ttl"`
}

// ScrubConfig controls redaction of shared intention text.
type ScrubConfig struct {
	Disabled  bool   `koanf:"disabled"`
	Redaction string `koanf:"redaction"`
}

// TemplatesConfig points at an optional user template file.
type TemplatesConfig struct {
	File  string `koanf:"file"`
	Watch bool   `koanf:"watch"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		errs = append(errs, errors.New("service name required when telemetry is enabled"))
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.sample_rate must be between 0 and 1, got %v", c.Observability.SampleRate))
	}

	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}

	if _, err := url.ParseRequestURI(c.Daily.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid daily.base_url %q: %w", c.Daily.BaseURL, err))
	}
	if c.Daily.RateLimit <= 0 {
		errs = append(errs, errors.New("daily.rate_limit must be positive"))
	}
	if c.Daily.MaxRetries < 0 {
		errs = append(errs, errors.New("daily.max_retries cannot be negative"))
	}

	if !c.NATS.Embedded && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required unless nats.embedded is set"))
	}

	switch c.Clock.Mode {
	case "tick", "boundary":
	default:
		errs = append(errs, fmt.Errorf("clock.mode must be 'tick' or 'boundary', got %q", c.Clock.Mode))
	}
	if c.Clock.Interval.Duration() < 100*time.Millisecond {
		errs = append(errs, errors.New("clock.interval must be at least 100ms"))
	}

	if c.Auth.ClientID != "" {
		switch c.Auth.Provider {
		case "google", "facebook":
		default:
			errs = append(errs, fmt.Errorf("auth.provider must be 'google' or 'facebook', got %q", c.Auth.Provider))
		}
		if !c.Auth.ClientSecret.IsSet() {
			errs = append(errs, errors.New("auth.client_secret is required when auth.client_id is set"))
		}
		if c.Auth.RedirectURL == "" {
			errs = append(errs, errors.New("auth.redirect_url is required when auth.client_id is set"))
		}
	}

	return errors.Join(errs...)
}
