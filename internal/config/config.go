package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"

	"github.com/manualbox/manualbox/internal/gate"
	"github.com/manualbox/manualbox/internal/metrics"
	"github.com/manualbox/manualbox/pkg/errors"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Storage    StorageConfig    `yaml:"storage"`
	Mount      MountConfig      `yaml:"mount"`
	Access     AccessConfig     `yaml:"access"`
	Statfs     StatfsConfig     `yaml:"statfs"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	LogFormat string `yaml:"log_format"`
}

// StorageConfig locates the container and its key.
type StorageConfig struct {
	Path             string `yaml:"path"`
	KeyFile          string `yaml:"key_file"`
	ScryptWorkFactor int    `yaml:"scrypt_work_factor"`
}

// MountConfig holds FUSE mount options.
type MountConfig struct {
	FSName       string        `yaml:"fsname"`
	AllowOther   bool          `yaml:"allow_other"`
	Debug        bool          `yaml:"debug"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// AccessConfig configures the access gate.
type AccessConfig struct {
	Policy          string        `yaml:"policy"`
	SessionKey      string        `yaml:"session_key"`
	DecisionCommand string        `yaml:"decision_command"`
	DecisionTimeout time.Duration `yaml:"decision_timeout"`
	ProcessNames    bool          `yaml:"process_names"`
	MaxRecords      int           `yaml:"max_records"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// StatfsConfig selects what statfs reports.
type StatfsConfig struct {
	Mode string `yaml:"mode"`
}

// Statfs modes.
const (
	StatfsPlaceholder = "placeholder"
	StatfsPassthrough = "passthrough"
)

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics metrics.Config `yaml:"metrics"`
}

// NewDefault returns a configuration with default values
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Storage: StorageConfig{
			Path:             "~/.manualbox",
			ScryptWorkFactor: 18,
		},
		Mount: MountConfig{
			FSName:       "manualbox",
			AttrTimeout:  time.Second,
			EntryTimeout: time.Second,
		},
		Access: AccessConfig{
			Policy:          "auto",
			SessionKey:      "handle",
			DecisionCommand: gate.DefaultCommand(),
			DecisionTimeout: gate.DefaultTimeout,
			ProcessNames:    true,
			MaxRecords:      gate.DefaultMaxRecords,
			SweepInterval:   time.Minute,
		},
		Statfs: StatfsConfig{
			Mode: StatfsPlaceholder,
		},
		Monitoring: MonitoringConfig{
			Metrics: *metrics.DefaultConfig(),
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("MANUALBOX_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("MANUALBOX_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	if val := os.Getenv("MANUALBOX_STORAGE"); val != "" {
		c.Storage.Path = val
	}
	if val := os.Getenv("MANUALBOX_KEY_FILE"); val != "" {
		c.Storage.KeyFile = val
	}

	if val := os.Getenv("MANUALBOX_POLICY"); val != "" {
		c.Access.Policy = val
	}
	if val := os.Getenv("MANUALBOX_SESSION_KEY"); val != "" {
		c.Access.SessionKey = val
	}
	if val := os.Getenv("MANUALBOX_DECISION_COMMAND"); val != "" {
		c.Access.DecisionCommand = val
	}
	if val := os.Getenv("MANUALBOX_DECISION_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid MANUALBOX_DECISION_TIMEOUT").
				WithComponent("config")
		}
		c.Access.DecisionTimeout = d
	}

	if val := os.Getenv("MANUALBOX_STATFS"); val != "" {
		c.Statfs.Mode = val
	}
	if val := os.Getenv("MANUALBOX_METRICS"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory").
			WithComponent("config")
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file").
			WithComponent("config")
	}

	return nil
}

// StoragePath returns the container path with "~" expanded.
func (c *Configuration) StoragePath() (string, error) {
	p, err := homedir.Expand(c.Storage.Path)
	if err != nil {
		return "", fmt.Errorf("expanding storage path: %w", err)
	}
	return filepath.Abs(p)
}

// KeyFilePath returns the key file path with "~" expanded, or "".
func (c *Configuration) KeyFilePath() (string, error) {
	if c.Storage.KeyFile == "" {
		return "", nil
	}
	return homedir.Expand(c.Storage.KeyFile)
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.NewError(errors.ErrCodeConfigValidation, fmt.Sprintf(format, args...)).
			WithComponent("config")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return invalid("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch strings.ToLower(c.Global.LogFormat) {
	case "", "text", "json":
	default:
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if c.Storage.Path == "" {
		return invalid("storage.path must be set")
	}
	if c.Storage.ScryptWorkFactor < 10 || c.Storage.ScryptWorkFactor > 22 {
		return invalid("storage.scrypt_work_factor must be between 10 and 22")
	}

	if _, err := gate.ParsePolicy(c.Access.Policy); err != nil {
		return invalid("%v", err)
	}
	if _, err := gate.ParseKeying(c.Access.SessionKey); err != nil {
		return invalid("%v", err)
	}
	if c.Access.DecisionCommand == "" {
		return invalid("access.decision_command must be set")
	}
	if c.Access.DecisionTimeout <= 0 {
		return invalid("access.decision_timeout must be greater than 0")
	}
	if c.Access.MaxRecords <= 0 {
		return invalid("access.max_records must be greater than 0")
	}
	if c.Access.SweepInterval < 0 {
		return invalid("access.sweep_interval must not be negative")
	}

	switch c.Statfs.Mode {
	case StatfsPlaceholder, StatfsPassthrough:
	default:
		return invalid("invalid statfs.mode: %s (must be %s or %s)",
			c.Statfs.Mode, StatfsPlaceholder, StatfsPassthrough)
	}

	if c.Mount.AttrTimeout < 0 || c.Mount.EntryTimeout < 0 {
		return invalid("mount timeouts must not be negative")
	}

	if c.Monitoring.Metrics.Enabled && c.Monitoring.Metrics.Path == "" {
		return invalid("monitoring.metrics.path must be set when metrics are enabled")
	}

	return nil
}
