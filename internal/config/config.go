// Package config loads server settings from defaults, an optional YAML file
// and BOARD_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// EnvPrefix prefixes every environment override, e.g. BOARD_ADDR.
const EnvPrefix = "BOARD"

// ErrInvalidStore is returned for an unknown store backend.
var ErrInvalidStore = errors.New("invalid store backend")

// Config holds every tunable of the server.
type Config struct {
	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"static_dir"`

	Store     string `mapstructure:"store"`
	DataFile  string `mapstructure:"data_file"`
	DBPath    string `mapstructure:"db_path"`
	DBHistory int    `mapstructure:"db_history"`

	BackupDir      string        `mapstructure:"backup_dir"`
	BackupInterval time.Duration `mapstructure:"backup_interval"`

	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	DragTimeout       time.Duration `mapstructure:"drag_timeout"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`

	CompressionThreshold int `mapstructure:"compression_threshold"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":5765")
	v.SetDefault("static_dir", "")
	v.SetDefault("store", StoreJSON)
	v.SetDefault("data_file", filepath.Join("data", "data.json"))
	v.SetDefault("db_path", filepath.Join("data", "board.db"))
	v.SetDefault("db_history", 50)
	v.SetDefault("backup_dir", "data")
	v.SetDefault("backup_interval", 3*time.Hour)
	v.SetDefault("lock_timeout", 5*time.Minute)
	v.SetDefault("drag_timeout", 30*time.Second)
	v.SetDefault("cleanup_interval", 30*time.Second)
	v.SetDefault("reconcile_interval", 60*time.Second)
	v.SetDefault("compression_threshold", 1024)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// New returns a viper instance with defaults and environment binding applied.
// Callers may bind command-line flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path into v and decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Store {
	case StoreJSON:
		if c.DataFile == "" {
			return fmt.Errorf("data_file must be set for the json store")
		}
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("db_path must be set for the sqlite store")
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStore, c.Store)
	}
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"lock_timeout":       c.LockTimeout,
		"drag_timeout":       c.DragTimeout,
		"cleanup_interval":   c.CleanupInterval,
		"reconcile_interval": c.ReconcileInterval,
		"backup_interval":    c.BackupInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}
