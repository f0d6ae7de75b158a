// Package config provides configuration management for the mapcache engine.
// It handles loading, validating and saving application settings. The package
// supports YAML configuration files and provides sensible defaults while
// allowing customization through a configuration file.
package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skyroute/mapcache/pkg/errors"
	"github.com/skyroute/mapcache/pkg/fsutil"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Settings Settings `yaml:"settings"`
}

// Settings represents general application settings.
type Settings struct {
	// CatalogURL is the well-known URL of the remote catalog document.
	CatalogURL string `yaml:"catalog_url"`

	// DataDir is the root of the local cache tree. Defaults to the
	// platform data directory.
	DataDir string `yaml:"data_dir,omitempty"`

	// Network settings.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	UserAgent   string        `yaml:"user_agent,omitempty"`

	// Auto-update scheduling.
	CheckInterval time.Duration `yaml:"check_interval"` // between refreshes once current
	RetryInterval time.Duration `yaml:"retry_interval"` // while the catalog is stale
	StaleAfter    time.Duration `yaml:"stale_after"`    // age after which a refresh is overdue

	// Output settings.
	LogLevel string `yaml:"log_level"` // error, warn, info, debug
}

// settingsYAML mirrors Settings on the wire, with durations rendered as
// strings like "30s" or "24h".
type settingsYAML struct {
	CatalogURL    string `yaml:"catalog_url"`
	DataDir       string `yaml:"data_dir,omitempty"`
	HTTPTimeout   string `yaml:"http_timeout,omitempty"`
	UserAgent     string `yaml:"user_agent,omitempty"`
	CheckInterval string `yaml:"check_interval,omitempty"`
	RetryInterval string `yaml:"retry_interval,omitempty"`
	StaleAfter    string `yaml:"stale_after,omitempty"`
	LogLevel      string `yaml:"log_level,omitempty"`
}

// MarshalYAML implements yaml.Marshaler.
func (s Settings) MarshalYAML() (interface{}, error) {
	out := settingsYAML{
		CatalogURL: s.CatalogURL,
		DataDir:    s.DataDir,
		UserAgent:  s.UserAgent,
		LogLevel:   s.LogLevel,
	}
	if s.HTTPTimeout != 0 {
		out.HTTPTimeout = s.HTTPTimeout.String()
	}
	if s.CheckInterval != 0 {
		out.CheckInterval = s.CheckInterval.String()
	}
	if s.RetryInterval != 0 {
		out.RetryInterval = s.RetryInterval.String()
	}
	if s.StaleAfter != 0 {
		out.StaleAfter = s.StaleAfter.String()
	}
	return out, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Settings) UnmarshalYAML(value *yaml.Node) error {
	var raw settingsYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.CatalogURL = raw.CatalogURL
	s.DataDir = raw.DataDir
	s.UserAgent = raw.UserAgent
	s.LogLevel = raw.LogLevel

	for _, field := range []struct {
		in   string
		out  *time.Duration
		name string
	}{
		{raw.HTTPTimeout, &s.HTTPTimeout, "http_timeout"},
		{raw.CheckInterval, &s.CheckInterval, "check_interval"},
		{raw.RetryInterval, &s.RetryInterval, "retry_interval"},
		{raw.StaleAfter, &s.StaleAfter, "stale_after"},
	} {
		if field.in == "" {
			continue
		}
		d, err := time.ParseDuration(field.in)
		if err != nil {
			return errors.Wrapf(errors.ErrConfigParse, "bad %s: %v", field.name, err)
		}
		*field.out = d
	}
	return nil
}

// Default configuration values.
const (
	// DefaultCatalogURL is the catalog endpoint used when none is configured.
	DefaultCatalogURL = "https://cplx.vm.uni-freiburg.de/storage/enroute-GeoJSONv002/maps.json"

	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultUserAgent identifies this client to the catalog server.
	DefaultUserAgent = "mapcache/1.0"

	// DefaultCheckInterval re-checks for catalog updates once a day.
	DefaultCheckInterval = 24 * time.Hour

	// DefaultRetryInterval is used while the last refresh is overdue.
	DefaultRetryInterval = time.Hour

	// DefaultStaleAfter is the age at which the local catalog counts as stale.
	DefaultStaleAfter = 6 * 24 * time.Hour

	// YAMLIndent is the number of spaces to use for YAML indentation.
	YAMLIndent = 2
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir, err := fsutil.DataDir()
	if err != nil {
		// Fallback to current directory if we can't determine the data dir
		dataDir = "."
	}

	return &Config{
		Settings: Settings{
			CatalogURL:    DefaultCatalogURL,
			DataDir:       dataDir,
			HTTPTimeout:   DefaultHTTPTimeout,
			UserAgent:     DefaultUserAgent,
			CheckInterval: DefaultCheckInterval,
			RetryInterval: DefaultRetryInterval,
			StaleAfter:    DefaultStaleAfter,
			LogLevel:      "info",
		},
	}
}

// LoadConfig loads configuration from a file. A missing file yields the
// default configuration.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrapf(err, "failed to open config file: %s", path)
	}
	defer func() { _ = file.Close() }()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config data")
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(errors.ErrConfigParse, err.Error())
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// SaveConfig saves configuration to a file. The file is written to a
// temporary path first and renamed into place.
func (c *Config) SaveConfig(path string) error {
	if path == "" {
		return errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	if err := fsutil.EnsureFileDir(absPath); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	tempPath := absPath + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fsutil.FileModeDefault)
	if err != nil {
		return errors.Wrap(err, "failed to create config file")
	}

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(YAMLIndent)

	if err := encoder.Encode(c); err != nil {
		_ = file.Close()
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "failed to encode config")
	}

	_ = encoder.Close()
	_ = file.Close()

	if err := os.Rename(tempPath, absPath); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "failed to rename temporary config file")
	}

	return nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Settings.CatalogURL == "" {
		c.Settings.CatalogURL = def.Settings.CatalogURL
	}
	if c.Settings.DataDir == "" {
		c.Settings.DataDir = def.Settings.DataDir
	}
	if c.Settings.HTTPTimeout == 0 {
		c.Settings.HTTPTimeout = def.Settings.HTTPTimeout
	}
	if c.Settings.UserAgent == "" {
		c.Settings.UserAgent = def.Settings.UserAgent
	}
	if c.Settings.CheckInterval == 0 {
		c.Settings.CheckInterval = def.Settings.CheckInterval
	}
	if c.Settings.RetryInterval == 0 {
		c.Settings.RetryInterval = def.Settings.RetryInterval
	}
	if c.Settings.StaleAfter == 0 {
		c.Settings.StaleAfter = def.Settings.StaleAfter
	}
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = def.Settings.LogLevel
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c == nil {
		return errors.ErrConfigValidation
	}
	if c.Settings.CatalogURL == "" {
		return errors.Wrap(errors.ErrConfigValidation, "catalog_url cannot be empty")
	}
	if !strings.HasPrefix(c.Settings.CatalogURL, "http://") && !strings.HasPrefix(c.Settings.CatalogURL, "https://") {
		return errors.Wrapf(errors.ErrConfigValidation, "catalog_url must be an HTTP(S) URL: %s", c.Settings.CatalogURL)
	}
	if c.Settings.HTTPTimeout < 0 {
		return errors.Wrap(errors.ErrConfigValidation, "http_timeout cannot be negative")
	}
	if c.Settings.CheckInterval < 0 || c.Settings.RetryInterval < 0 || c.Settings.StaleAfter < 0 {
		return errors.Wrap(errors.ErrConfigValidation, "intervals cannot be negative")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Settings.LogLevel)] {
		return errors.Wrapf(errors.ErrConfigValidation, "invalid log level: %s", c.Settings.LogLevel)
	}
	return nil
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to determine user config directory")
	}
	return filepath.Join(configDir, fsutil.AppName, "config.yaml"), nil
}
