// Package config provides configuration management for tabstash.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultConfigDir  = ".config/tabstash"
	DefaultConfigFile = "config.yaml"
	DefaultDataDir    = ".local/share/tabstash"
)

// Sentinel errors for configuration operations.
var (
	ErrInvalidKey = errors.New("invalid configuration key")
)

// validKeys is built once from Config struct reflection.
var validKeys = buildValidKeys()

// validate is the shared validator instance.
var validate = validator.New()

// Config represents the full tabstash configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
	Stash     StashConfig     `mapstructure:"stash" validate:"required"`
	Bookmarks BookmarksConfig `mapstructure:"bookmarks"`
	Bridge    BridgeConfig    `mapstructure:"bridge" validate:"required"`
	History   HistoryConfig   `mapstructure:"history"`
}

// StorageConfig holds storage location configuration.
type StorageConfig struct {
	Database string `mapstructure:"database" validate:"required"`
}

// StashConfig tunes window stashing and the snapshot archive.
type StashConfig struct {
	RetentionDays        int    `mapstructure:"retention_days" validate:"min=1"`
	SweepIntervalMinutes int    `mapstructure:"sweep_interval_minutes" validate:"min=1"`
	DesktopURL           string `mapstructure:"desktop_url" validate:"required"`
	NewTabURL            string `mapstructure:"new_tab_url" validate:"required"`
}

// BookmarksConfig holds bookmark folder configuration.
type BookmarksConfig struct {
	RootFolder string `mapstructure:"root_folder" validate:"required"`
}

// BridgeConfig holds the listen address shared by the browser bridge and the
// local API, and how long a close waits before removing live tabs.
type BridgeConfig struct {
	Listen       string `mapstructure:"listen" validate:"required,hostname_port"`
	CloseDelayMS int    `mapstructure:"close_delay_ms" validate:"min=0"`
}

// HistoryConfig tunes recent-history lookups.
type HistoryConfig struct {
	WindowDays int `mapstructure:"window_days" validate:"min=1"`
	MaxResults int `mapstructure:"max_results" validate:"min=1"`
}

// Validate checks the configuration for errors using struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Loader provides configuration loading and saving.
type Loader struct {
	v       *viper.Viper
	path    string
	homeDir string
}

// NewLoader creates a new configuration loader.
func NewLoader() (*Loader, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}

	configPath := filepath.Join(home, DefaultConfigDir, DefaultConfigFile)

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Environment variable binding
	v.SetEnvPrefix("TABSTASH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific env vars to config keys.
	// We intentionally ignore errors here as BindEnv only fails if called with zero arguments.
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("storage.database", "TABSTASH_DATABASE")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("bridge.listen", "TABSTASH_BRIDGE_LISTEN")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("bookmarks.root_folder", "TABSTASH_ROOT_FOLDER")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("stash.retention_days", "TABSTASH_RETENTION_DAYS")

	l := &Loader{
		v:       v,
		path:    configPath,
		homeDir: home,
	}

	// Set defaults before any config reading
	l.setDefaults()

	return l, nil
}

// setDefaults sets all default configuration values using Viper.
func (l *Loader) setDefaults() {
	l.v.SetDefault("storage.database", "~/"+DefaultDataDir+"/tabstash.db")
	l.v.SetDefault("stash.retention_days", 7)
	l.v.SetDefault("stash.sweep_interval_minutes", 60)
	l.v.SetDefault("stash.desktop_url", "chrome://newtab/")
	l.v.SetDefault("stash.new_tab_url", "chrome://newtab/")
	l.v.SetDefault("bookmarks.root_folder", "Stash")
	l.v.SetDefault("bridge.listen", "127.0.0.1:7397")
	l.v.SetDefault("bridge.close_delay_ms", 200)
	l.v.SetDefault("history.window_days", 30)
	l.v.SetDefault("history.max_results", 10000)
}

// Load reads the configuration file, creating defaults if it doesn't exist.
func (l *Loader) Load() (*Config, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		if err := l.createDefault(); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Expand paths
	cfg.Storage.Database = l.expandPath(cfg.Storage.Database)

	return &cfg, nil
}

// Path returns the configuration file path.
func (l *Loader) Path() string {
	return l.path
}

// Get returns a configuration value by dot-notation key.
func (l *Loader) Get(key string) (any, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return l.v.Get(key), nil
}

// Set sets a configuration value by dot-notation key.
func (l *Loader) Set(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	l.v.Set(key, value)
	return l.v.WriteConfig()
}

// createDefault writes the default configuration file using Viper.
func (l *Loader) createDefault() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	return l.v.SafeWriteConfigAs(l.path)
}

// expandPath replaces ~ with the home directory.
func (l *Loader) expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(l.homeDir, path[2:])
	}
	if path == "~" {
		return l.homeDir
	}
	return path
}

// ValidateKey checks if a key is a valid configuration key.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	if validKeys[key] {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrInvalidKey, key)
}

// buildValidKeys builds the set of valid keys from Config struct using reflection.
func buildValidKeys() map[string]bool {
	keys := make(map[string]bool)
	addKeysFromType(reflect.TypeOf(Config{}), "", keys)
	return keys
}

// addKeysFromType recursively adds keys from a struct type.
func addKeysFromType(t reflect.Type, prefix string, keys map[string]bool) {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		keys[key] = true

		// Recurse into nested structs (but not maps)
		if field.Type.Kind() == reflect.Struct {
			addKeysFromType(field.Type, key, keys)
		}
	}
}
