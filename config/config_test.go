package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"app_name": "TestApp",
		"listen_ip": "127.0.0.1",
		"listen_port": 9090,
		"session_key": "test-session-key",
		"database_path": "/tmp/test.db",
		"registration_captcha": true
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.AppName != "TestApp" {
		t.Errorf("Expected AppName 'TestApp', got '%s'", cfg.AppName)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Errorf("Expected addr '127.0.0.1:9090', got '%s'", cfg.Addr())
	}
	if cfg.SessionKey != "test-session-key" {
		t.Errorf("Expected SessionKey 'test-session-key', got '%s'", cfg.SessionKey)
	}
	if cfg.DatabasePath != "/tmp/test.db" {
		t.Errorf("Expected DatabasePath '/tmp/test.db', got '%s'", cfg.DatabasePath)
	}
	if !cfg.RegistrationCaptcha {
		t.Error("Expected RegistrationCaptcha to be true")
	}
	// Defaults survive for keys the file leaves out.
	if cfg.SessionBackend != SessionBackendCookie {
		t.Errorf("Expected default session backend, got '%s'", cfg.SessionBackend)
	}
	if cfg.SessionMaxAge != 86400*7 {
		t.Errorf("Expected default session max age, got %d", cfg.SessionMaxAge)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `{"listen_port": 9090, "session_key": "from-file"}`)
	t.Setenv("TIMESHEET_SESSION_KEY", "from-env")
	t.Setenv("TIMESHEET_LISTEN_PORT", "7070")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.SessionKey != "from-env" {
		t.Errorf("Expected SessionKey from env, got '%s'", cfg.SessionKey)
	}
	if cfg.ListenPort != 7070 {
		t.Errorf("Expected ListenPort 7070, got %d", cfg.ListenPort)
	}
}

func TestLoadConfigGeneratesSessionKey(t *testing.T) {
	path := writeConfig(t, `{"session_key": "CHANGE_ME_IN_PRODUCTION"}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.SessionKey == "" || cfg.SessionKey == "CHANGE_ME_IN_PRODUCTION" {
		t.Errorf("Expected a generated session key, got '%s'", cfg.SessionKey)
	}
	if len(cfg.SessionKey) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(cfg.SessionKey))
	}
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig with empty path failed: %v", err)
	}
	if cfg.ListenPort != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.ListenPort)
	}
}

func TestLoadConfigInvalidPath(t *testing.T) {
	if _, err := LoadConfig("non-existent-path.json"); err == nil {
		t.Error("LoadConfig with non-existent path should have failed")
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{ "invalid": json }`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig with invalid JSON should have failed")
	}
}

func TestLoadConfigRedisNeedsURL(t *testing.T) {
	path := writeConfig(t, `{"session_backend": "redis"}`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("redis session backend without redis_url should have failed")
	}
}
