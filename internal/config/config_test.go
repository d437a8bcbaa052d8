package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "ws://localhost:4000" {
		t.Errorf("ServerURL = %s", cfg.ServerURL)
	}
	if cfg.ReconnectDelay != time.Second {
		t.Errorf("ReconnectDelay = %v", cfg.ReconnectDelay)
	}
	if cfg.PollInterval != 3*time.Second || cfg.PollAttempts != 15 {
		t.Errorf("poll defaults = %v/%d", cfg.PollInterval, cfg.PollAttempts)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server_url: ws://backend:4000
app_id: app-1
auth_timeout: 3s
max_reconnect_attempts: 4
poll_when_ready: true
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROJECTSYNC_APP_ID", "app-2")
	t.Setenv("PROJECTSYNC_RECONNECT_DELAY", "250ms")
	t.Setenv("PROJECTSYNC_SEND_QUEUE_LIMIT", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "ws://backend:4000" {
		t.Errorf("ServerURL = %s", cfg.ServerURL)
	}
	if cfg.AppID != "app-2" {
		t.Errorf("env should override file, AppID = %s", cfg.AppID)
	}
	if cfg.AuthTimeout != 3*time.Second {
		t.Errorf("AuthTimeout = %v", cfg.AuthTimeout)
	}
	if cfg.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("ReconnectDelay = %v", cfg.ReconnectDelay)
	}
	if cfg.MaxReconnectAttempts != 4 || !cfg.PollWhenReady {
		t.Errorf("unexpected file values %+v", cfg)
	}
	if cfg.SendQueueLimit != 256 {
		t.Errorf("invalid env should fall back, got %d", cfg.SendQueueLimit)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("server_url: [unterminated"), 0644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("missing app ID should fail validation")
	}
	cfg.AppID = "app-1"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	cfg.AuthTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero auth timeout should fail validation")
	}
}
