package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// setupTestHome points HOME at a temp dir and returns the focusd config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "focusd")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	// WriteFile is subject to umask.
	if err := os.Chmod(path, perm); err != nil {
		t.Fatalf("Failed to chmod test config: %v", err)
	}
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: 9191
  http_host: 0.0.0.0
  shutdown_timeout: 3s
daily:
  api_key: dk_test_123
  room_ttl: 2h
clock:
  mode: boundary
  interval: 500ms
nats:
  url: nats://127.0.0.1:4222
templates:
  file: /etc/focusd/templates.yaml
  watch: true
`, 0600)

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if got := cfg.Server.ShutdownTimeout.Duration(); got != 3*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 3s", got)
	}
	if cfg.Daily.APIKey.Value() != "dk_test_123" {
		t.Errorf("Daily.APIKey not loaded")
	}
	if got := cfg.Daily.RoomTTL.Duration(); got != 2*time.Hour {
		t.Errorf("Daily.RoomTTL = %v, want 2h", got)
	}
	if cfg.Clock.Mode != "boundary" {
		t.Errorf("Clock.Mode = %q, want boundary", cfg.Clock.Mode)
	}
	if got := cfg.Clock.Interval.Duration(); got != 500*time.Millisecond {
		t.Errorf("Clock.Interval = %v, want 500ms", got)
	}
	if cfg.NATS.Embedded {
		t.Errorf("NATS.Embedded = true, want false when url is set")
	}
	if !cfg.Templates.Watch || cfg.Templates.File != "/etc/focusd/templates.yaml" {
		t.Errorf("Templates = %+v", cfg.Templates)
	}
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0600)

	t.Setenv("SERVER_HTTP_PORT", "7070")
	t.Setenv("DAILY_API_KEY", "from-env")
	t.Setenv("CLOCK_MODE", "boundary")
	t.Setenv("AUTH_SCOPES", "email, profile")
	t.Setenv("UNRELATED_SETTING", "ignored")

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070 (env override)", cfg.Server.Port)
	}
	if cfg.Daily.APIKey.Value() != "from-env" {
		t.Errorf("Daily.APIKey = %q, want from-env", cfg.Daily.APIKey.Value())
	}
	if cfg.Clock.Mode != "boundary" {
		t.Errorf("Clock.Mode = %q, want boundary", cfg.Clock.Mode)
	}
	if len(cfg.Auth.Scopes) != 2 || cfg.Auth.Scopes[0] != "email" || cfg.Auth.Scopes[1] != "profile" {
		t.Errorf("Auth.Scopes = %v, want [email profile]", cfg.Auth.Scopes)
	}
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Store.Path != filepath.Join(dir, "focusd.db") {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if !cfg.NATS.Embedded {
		t.Errorf("NATS.Embedded = false, want true without a url")
	}
	if cfg.Daily.BaseURL != "https://api.daily.co/v1" {
		t.Errorf("Daily.BaseURL = %q", cfg.Daily.BaseURL)
	}
	if got := cfg.Daily.RoomTTL.Duration(); got != 24*time.Hour {
		t.Errorf("Daily.RoomTTL = %v, want 24h", got)
	}
	if cfg.Daily.APIKey.IsSet() {
		t.Errorf("Daily.APIKey should be unset by default")
	}
	if cfg.Clock.Mode != "tick" {
		t.Errorf("Clock.Mode = %q, want tick", cfg.Clock.Mode)
	}
}

func TestLoadWithFile_DefaultPath(t *testing.T) {
	setupTestHome(t)

	if _, err := LoadWithFile(""); err != nil {
		t.Fatalf("LoadWithFile(\"\") error = %v", err)
	}
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: [unclosed\n", 0600)

	if _, err := LoadWithFile(path); err == nil {
		t.Fatal("LoadWithFile() error = nil, want parse error")
	}
}

func TestLoadWithFile_Validation(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "clock:\n  mode: sometimes\n", 0600)

	_, err := LoadWithFile(path)
	if err == nil {
		t.Fatal("LoadWithFile() error = nil, want validation error")
	}
	if !strings.Contains(err.Error(), "clock.mode") {
		t.Errorf("error = %v, want clock.mode mention", err)
	}
}

func TestLoadWithFile_NegativeDuration(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "daily:\n  room_ttl: -1h\n", 0600)

	if _, err := LoadWithFile(path); err == nil {
		t.Fatal("LoadWithFile() error = nil, want negative duration error")
	}
}

func TestLoadWithFile_PathTraversal(t *testing.T) {
	setupTestHome(t)

	outside := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := LoadWithFile(outside); err == nil {
		t.Fatal("LoadWithFile() error = nil, want path validation error")
	}
}

func TestLoadWithFile_SiblingPrefixRejected(t *testing.T) {
	dir := setupTestHome(t)

	sibling := dir + "-evil"
	if err := os.MkdirAll(sibling, 0700); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWithFile(filepath.Join(sibling, "config.yaml")); err == nil {
		t.Fatal("LoadWithFile() error = nil, want rejection of lookalike directory")
	}
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0644)

	_, err := LoadWithFile(path)
	if err == nil {
		t.Fatal("LoadWithFile() error = nil, want permission error")
	}
	if !strings.Contains(err.Error(), "insecure") {
		t.Errorf("error = %v, want insecure permissions", err)
	}
}

func TestLoadWithFile_ReadOnlyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0400)

	if _, err := LoadWithFile(path); err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil for 0400", err)
	}
}

func TestLoadWithFile_FileTooLarge(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "# "+strings.Repeat("x", maxConfigFileSize)+"\n", 0600)

	_, err := LoadWithFile(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("LoadWithFile() error = %v, want size error", err)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SERVER_HTTP_PORT":          "server.http_port",
		"DAILY_API_KEY":             "daily.api_key",
		"NATS_URL":                  "nats.url",
		"OBSERVABILITY_SAMPLE_RATE": "observability.sample_rate",
		"PATH":                      "",
		"HOME_DIR":                  "",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnvValue(t *testing.T) {
	key, v := envValue("AUTH_SCOPES", "openid,,email ")
	if key != "auth.scopes" {
		t.Fatalf("key = %q, want auth.scopes", key)
	}
	scopes, ok := v.([]string)
	if !ok || len(scopes) != 2 || scopes[0] != "openid" || scopes[1] != "email" {
		t.Errorf("value = %#v, want [openid email]", v)
	}

	key, v = envValue("SERVER_API_TOKEN", "a,b")
	if key != "server.api_token" || v != "a,b" {
		t.Errorf("scalar = (%q, %v), want (server.api_token, a,b)", key, v)
	}

	if key, _ := envValue("HOME", "/root"); key != "" {
		t.Errorf("unknown section mapped to %q", key)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if err := EnsureConfigDir(); err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}
	info, err := os.Stat(filepath.Join(home, ".config", "focusd"))
	if err != nil {
		t.Fatalf("config dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("config path is not a directory")
	}
}
