package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := Load(missing)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != missing {
		t.Fatalf("expected resolved path %q, got %q", missing, resolved)
	}
	if cfg.Monitor.PollMaxAttempts != defaultPollMaxAttempts {
		t.Fatalf("expected default poll attempts, got %d", cfg.Monitor.PollMaxAttempts)
	}
	if cfg.Paths.APIBind != defaultAPIBind {
		t.Fatalf("expected default api bind, got %q", cfg.Paths.APIBind)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[paths]
settings_path = "~/custom/settings.json"
api_bind = "127.0.0.1:9999"

[monitor]
poll_max_attempts = 5
poll_interval_seconds = 0

[history]
retention_days = -3
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Monitor.PollMaxAttempts != 5 {
		t.Fatalf("expected poll attempts 5, got %d", cfg.Monitor.PollMaxAttempts)
	}
	if cfg.Monitor.PollIntervalSeconds != defaultPollIntervalSeconds {
		t.Fatalf("expected zero interval repaired to default, got %d", cfg.Monitor.PollIntervalSeconds)
	}
	if cfg.History.RetentionDays != 0 {
		t.Fatalf("expected negative retention repaired to 0, got %d", cfg.History.RetentionDays)
	}
	if strings.HasPrefix(cfg.Paths.SettingsPath, "~") {
		t.Fatalf("expected tilde expansion, got %q", cfg.Paths.SettingsPath)
	}
	if !filepath.IsAbs(cfg.Paths.SettingsPath) {
		t.Fatalf("expected absolute settings path, got %q", cfg.Paths.SettingsPath)
	}
}

func TestLoadRejectsBadBind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[paths]\napi_bind = \"not-a-bind\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := Load(path); err == nil {
		t.Fatal("expected validation error for malformed api_bind")
	}
}

func TestValidateRejectsUnknownLogFormat(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported log format")
	}
}

func TestCreateSampleWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[monitor]") {
		t.Fatal("sample config missing [monitor] section")
	}
}
