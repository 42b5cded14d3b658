package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
	appDir            = "focusd"
)

// sections lists the top-level keys environment variables may target.
var sections = map[string]bool{
	"server":        true,
	"logging":       true,
	"observability": true,
	"store":         true,
	"daily":         true,
	"nats":          true,
	"clock":         true,
	"auth":          true,
	"scrub":         true,
	"templates":     true,
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, DAILY_API_KEY, ...)
//  2. YAML config file (~/.config/focusd/config.yaml)
//  3. Defaults
//
// The file must live in ~/.config/focusd/ or /etc/focusd/, have 0600 or
// 0400 permissions and be at most 1MB. A missing file is not an error.
//
// Environment variables split on the first underscore:
//
//	SERVER_HTTP_PORT -> server.http_port
//	DAILY_ROOM_TTL   -> daily.room_ttl
//	NATS_URL         -> nats.url
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", appDir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// listKeys are the settings whose environment value is a comma-separated
// list.
var listKeys = map[string]bool{
	"auth.scopes": true,
}

// envValue maps an environment variable to its config key and splits list
// values on commas, dropping empty items.
func envValue(name, value string) (string, interface{}) {
	key := envKey(name)
	if key == "" || !listKeys[key] {
		return key, value
	}
	items := make([]string, 0, strings.Count(value, ",")+1)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// envKey maps SECTION_FIELD_NAME to section.field_name. Variables outside
// the known sections map to "" and are skipped.
func envKey(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) != 2 || !sections[parts[0]] {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens the file once and validates it through the open
// descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// EnsureConfigDir creates ~/.config/focusd with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDir), nil
}

// validateConfigPath checks that path resolves into an allowed directory.
// It runs even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	userDir, err := configDir()
	if err != nil {
		return err
	}

	for _, dir := range []string{userDir, filepath.Join("/etc", appDir)} {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/%s/ or /etc/%s/", appDir, appDir)
}

// validateConfigFileProperties checks permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Observability
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "focusd"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}

	// Store
	if cfg.Store.Path == "" {
		if dir, err := configDir(); err == nil {
			cfg.Store.Path = filepath.Join(dir, "focusd.db")
		} else {
			cfg.Store.Path = "focusd.db"
		}
	}

	// Daily
	if cfg.Daily.BaseURL == "" {
		cfg.Daily.BaseURL = "https://api.daily.co/v1"
	}
	if cfg.Daily.RoomTTL == 0 {
		cfg.Daily.RoomTTL = Duration(24 * time.Hour)
	}
	if cfg.Daily.Privacy == "" {
		cfg.Daily.Privacy = "public"
	}
	if cfg.Daily.Timeout == 0 {
		cfg.Daily.Timeout = Duration(15 * time.Second)
	}
	if cfg.Daily.RateLimit == 0 {
		cfg.Daily.RateLimit = 5
	}
	if cfg.Daily.Burst == 0 {
		cfg.Daily.Burst = 5
	}
	if cfg.Daily.MaxRetries == 0 {
		cfg.Daily.MaxRetries = 3
	}

	// NATS
	if cfg.NATS.URL == "" && !cfg.NATS.Embedded {
		cfg.NATS.Embedded = true
	}
	if cfg.NATS.Host == "" {
		cfg.NATS.Host = "127.0.0.1"
	}
	if cfg.NATS.Port == 0 {
		cfg.NATS.Port = 4222
	}
	if cfg.NATS.Heartbeat == 0 {
		cfg.NATS.Heartbeat = Duration(30 * time.Second)
	}

	// Clock
	if cfg.Clock.Mode == "" {
		cfg.Clock.Mode = "tick"
	}
	if cfg.Clock.Interval == 0 {
		cfg.Clock.Interval = Duration(time.Second)
	}

	// Auth
	if cfg.Auth.Provider == "" {
		cfg.Auth.Provider = "google"
	}
	if len(cfg.Auth.Scopes) == 0 {
		if cfg.Auth.Provider == "facebook" {
			cfg.Auth.Scopes = []string{"email", "public_profile"}
		} else {
			cfg.Auth.Scopes = []string{"openid", "email", "profile"}
		}
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = Duration(30 * 24 * time.Hour)
	}

	// Scrub
	if cfg.Scrub.Redaction == "" {
		cfg.Scrub.Redaction = "[redacted]"
	}
}
