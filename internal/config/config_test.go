package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mberrors "github.com/manualbox/manualbox/pkg/errors"
)

const TestDebugLevel = "DEBUG"

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Storage.Path != "~/.manualbox" {
		t.Errorf("Expected storage path ~/.manualbox, got %s", cfg.Storage.Path)
	}
	if cfg.Access.Policy != "auto" {
		t.Errorf("Expected policy auto, got %s", cfg.Access.Policy)
	}
	if cfg.Access.SessionKey != "handle" {
		t.Errorf("Expected session key handle, got %s", cfg.Access.SessionKey)
	}
	if !strings.HasSuffix(cfg.Access.DecisionCommand, "/manualboxinput") {
		t.Errorf("Unexpected decision command %s", cfg.Access.DecisionCommand)
	}
	if cfg.Access.DecisionTimeout != 2*time.Minute {
		t.Errorf("Expected decision timeout 2m, got %v", cfg.Access.DecisionTimeout)
	}
	if cfg.Statfs.Mode != StatfsPlaceholder {
		t.Errorf("Expected statfs placeholder, got %s", cfg.Statfs.Mode)
	}
	if cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics to be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default configuration should be valid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	configContent := `
global:
  log_level: DEBUG
  log_format: json
storage:
  path: /tmp/box
  scrypt_work_factor: 15
access:
  policy: open
  session_key: process
  decision_timeout: 45s
  max_records: 10
statfs:
  mode: passthrough
monitoring:
  metrics:
    enabled: true
    address: 127.0.0.1:9999
    path: /m
`

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load config from file: %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.LogFormat != "json" {
		t.Errorf("Expected LogFormat json, got %s", cfg.Global.LogFormat)
	}
	if cfg.Storage.Path != "/tmp/box" || cfg.Storage.ScryptWorkFactor != 15 {
		t.Errorf("Unexpected storage config %+v", cfg.Storage)
	}
	if cfg.Access.Policy != "open" || cfg.Access.SessionKey != "process" {
		t.Errorf("Unexpected access config %+v", cfg.Access)
	}
	if cfg.Access.DecisionTimeout != 45*time.Second {
		t.Errorf("Expected decision timeout 45s, got %v", cfg.Access.DecisionTimeout)
	}
	if cfg.Access.MaxRecords != 10 {
		t.Errorf("Expected max records 10, got %d", cfg.Access.MaxRecords)
	}
	// Unset keys keep their defaults.
	if cfg.Access.SweepInterval != time.Minute {
		t.Errorf("Expected sweep interval default 1m, got %v", cfg.Access.SweepInterval)
	}
	if cfg.Statfs.Mode != StatfsPassthrough {
		t.Errorf("Expected statfs passthrough, got %s", cfg.Statfs.Mode)
	}
	if !cfg.Monitoring.Metrics.Enabled || cfg.Monitoring.Metrics.Address != "127.0.0.1:9999" {
		t.Errorf("Unexpected metrics config %+v", cfg.Monitoring.Metrics)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Loaded config should be valid: %v", err)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if mberrors.CodeOf(err) != mberrors.ErrCodeConfigLoad {
		t.Errorf("Expected CONFIG_LOAD for missing file, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("access: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	err = cfg.LoadFromFile(bad)
	if mberrors.CodeOf(err) != mberrors.ErrCodeConfigLoad {
		t.Errorf("Expected CONFIG_LOAD for bad yaml, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MANUALBOX_LOG_LEVEL", "debug")
	t.Setenv("MANUALBOX_STORAGE", "/var/tmp/box")
	t.Setenv("MANUALBOX_POLICY", "read")
	t.Setenv("MANUALBOX_SESSION_KEY", "process")
	t.Setenv("MANUALBOX_DECISION_COMMAND", "/opt/ask")
	t.Setenv("MANUALBOX_DECISION_TIMEOUT", "10s")
	t.Setenv("MANUALBOX_STATFS", "passthrough")
	t.Setenv("MANUALBOX_METRICS", "true")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load config from environment: %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Storage.Path != "/var/tmp/box" {
		t.Errorf("Expected storage /var/tmp/box, got %s", cfg.Storage.Path)
	}
	if cfg.Access.Policy != "read" || cfg.Access.SessionKey != "process" {
		t.Errorf("Unexpected access config %+v", cfg.Access)
	}
	if cfg.Access.DecisionCommand != "/opt/ask" {
		t.Errorf("Expected decision command /opt/ask, got %s", cfg.Access.DecisionCommand)
	}
	if cfg.Access.DecisionTimeout != 10*time.Second {
		t.Errorf("Expected timeout 10s, got %v", cfg.Access.DecisionTimeout)
	}
	if cfg.Statfs.Mode != StatfsPassthrough {
		t.Errorf("Expected passthrough, got %s", cfg.Statfs.Mode)
	}
	if !cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics enabled")
	}
}

func TestLoadFromEnvBadDuration(t *testing.T) {
	t.Setenv("MANUALBOX_DECISION_TIMEOUT", "soon")

	err := NewDefault().LoadFromEnv()
	if !errors.Is(err, mberrors.ErrInvalidConfig) {
		t.Errorf("Expected invalid config error, got %v", err)
	}
}

func TestSaveToFile(t *testing.T) {
	cfg := NewDefault()
	cfg.Access.Policy = "open"
	cfg.Access.DecisionTimeout = 30 * time.Second

	configFile := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("Failed to save config to file: %v", err)
	}

	info, err := os.Stat(configFile)
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Access.Policy != "open" {
		t.Errorf("Expected policy open, got %s", loaded.Access.Policy)
	}
	if loaded.Access.DecisionTimeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", loaded.Access.DecisionTimeout)
	}
}

func TestStoragePath(t *testing.T) {
	cfg := NewDefault()
	cfg.Storage.Path = "/srv/box"
	p, err := cfg.StoragePath()
	if err != nil || p != "/srv/box" {
		t.Errorf("StoragePath() = %q, %v", p, err)
	}

	cfg.Storage.Path = "~/.manualbox"
	p, err = cfg.StoragePath()
	if err != nil {
		t.Fatalf("StoragePath() error = %v", err)
	}
	if strings.HasPrefix(p, "~") || !strings.HasSuffix(p, ".manualbox") {
		t.Errorf("StoragePath() = %q, want expanded home", p)
	}

	if kf, err := cfg.KeyFilePath(); err != nil || kf != "" {
		t.Errorf("KeyFilePath() = %q, %v, want empty", kf, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Configuration)
		wantErr string
	}{
		{"valid default", func(c *Configuration) {}, ""},
		{"lower case log level", func(c *Configuration) { c.Global.LogLevel = "warn" }, ""},
		{"invalid log level", func(c *Configuration) { c.Global.LogLevel = "LOUD" }, "log_level"},
		{"invalid log format", func(c *Configuration) { c.Global.LogFormat = "xml" }, "log_format"},
		{"empty storage", func(c *Configuration) { c.Storage.Path = "" }, "storage.path"},
		{"weak scrypt", func(c *Configuration) { c.Storage.ScryptWorkFactor = 4 }, "scrypt"},
		{"bad policy", func(c *Configuration) { c.Access.Policy = "never" }, "policy"},
		{"bad session key", func(c *Configuration) { c.Access.SessionKey = "user" }, "session key"},
		{"no command", func(c *Configuration) { c.Access.DecisionCommand = "" }, "decision_command"},
		{"zero timeout", func(c *Configuration) { c.Access.DecisionTimeout = 0 }, "decision_timeout"},
		{"zero records", func(c *Configuration) { c.Access.MaxRecords = 0 }, "max_records"},
		{"bad statfs", func(c *Configuration) { c.Statfs.Mode = "real" }, "statfs"},
		{"metrics without path", func(c *Configuration) {
			c.Monitoring.Metrics.Enabled = true
			c.Monitoring.Metrics.Path = ""
		}, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
			if mberrors.CodeOf(err) != mberrors.ErrCodeConfigValidation {
				t.Errorf("Validate() code = %v, want CONFIG_VALIDATION", mberrors.CodeOf(err))
			}
		})
	}
}
