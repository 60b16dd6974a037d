// Package config loads xsync settings from a config file, the environment
// and an optional .env file.
//
// Precedence, highest first: XSYNC_* environment variables (including those
// set by .env), the config file (xsync.toml / xsync.yaml), built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. XSYNC_REMOTE_API_KEY.
const EnvPrefix = "XSYNC"

// Config holds all configuration for xsync.
type Config struct {
	DataDir   string          `mapstructure:"data_dir" validate:"required"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Share     ShareConfig     `mapstructure:"share"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
	Inbox     InboxConfig     `mapstructure:"inbox"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Blobd     BlobdConfig     `mapstructure:"blobd"`
}

// RemoteConfig configures the blob store client.
type RemoteConfig struct {
	BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ScopeLatest  bool          `mapstructure:"scope_latest"`
	Private      bool          `mapstructure:"private"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" validate:"gt=0"`
}

// SyncConfig configures the engine's triggers.
type SyncConfig struct {
	Debounce     time.Duration `mapstructure:"debounce" validate:"gt=0"`
	Interval     time.Duration `mapstructure:"interval" validate:"gt=0"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Offline      bool          `mapstructure:"offline"`

	// ProbeInterval is how often the daemon checks that the remote host is
	// reachable. 0 disables probing.
	ProbeInterval time.Duration `mapstructure:"probe_interval" validate:"gte=0"`
}

// ShareConfig configures share links.
type ShareConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
}

// StoreConfig configures the local SQLite store.
type StoreConfig struct {
	Path          string `mapstructure:"path"`
	MaxValueBytes int    `mapstructure:"max_value_bytes" validate:"gte=0"`
}

// LogConfig configures log output.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Quiet      bool   `mapstructure:"quiet"`
}

// InboxConfig configures the watched inbox directory.
type InboxConfig struct {
	Dir string `mapstructure:"dir"`
}

// DashboardConfig configures the status dashboard. Port 0 disables it.
type DashboardConfig struct {
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// BlobdConfig configures the self-hosted blob server.
type BlobdConfig struct {
	Addr            string `mapstructure:"addr" validate:"required"`
	Backend         string `mapstructure:"backend" validate:"oneof=memory sqlite redis"`
	APIKey          string `mapstructure:"api_key"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	RedisURL        string `mapstructure:"redis_url" validate:"required_if=Backend redis"`
	MaxPayloadBytes int64  `mapstructure:"max_payload_bytes" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())

	v.SetDefault("remote.base_url", "https://api.jsonbin.io/v3/b")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("remote.scope_latest", true)
	v.SetDefault("remote.private", false)
	v.SetDefault("remote.max_body_bytes", 8<<20)

	v.SetDefault("sync.debounce", 2*time.Second)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.initial_delay", 5*time.Second)
	v.SetDefault("sync.offline", false)
	v.SetDefault("sync.probe_interval", 30*time.Second)

	v.SetDefault("share.base_url", "")

	v.SetDefault("store.path", "")
	v.SetDefault("store.max_value_bytes", 5*1024*1024)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.quiet", false)

	v.SetDefault("inbox.dir", "")

	v.SetDefault("dashboard.port", 0)

	v.SetDefault("blobd.addr", "127.0.0.1:8787")
	v.SetDefault("blobd.backend", "memory")
	v.SetDefault("blobd.api_key", "")
	v.SetDefault("blobd.sqlite_path", "")
	v.SetDefault("blobd.redis_url", "")
	v.SetDefault("blobd.max_payload_bytes", 1<<20)
}

// Load reads configuration. When path is empty, xsync.{toml,yaml} is looked
// up in $XDG_CONFIG_HOME/xsync and the working directory; a missing file is
// not an error. A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("xsync")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "xsync"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	cfg.resolvePaths()
	return &cfg
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}

	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s: %s", settingName(fe.Namespace()), validationMessage(fe)))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// StorePath returns the SQLite database path.
func (c *Config) StorePath() string {
	return c.Store.Path
}

func (c *Config) resolvePaths() {
	c.DataDir = expandHome(c.DataDir)
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "xsync.db")
	}
	c.Store.Path = expandHome(c.Store.Path)
	if c.Inbox.Dir == "" {
		c.Inbox.Dir = filepath.Join(c.DataDir, "inbox")
	}
	c.Inbox.Dir = expandHome(c.Inbox.Dir)
	c.Log.File = expandHome(c.Log.File)
	if c.Blobd.SQLitePath == "" {
		c.Blobd.SQLitePath = filepath.Join(c.DataDir, "blobd.db")
	}
	c.Blobd.SQLitePath = expandHome(c.Blobd.SQLitePath)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".xsync"
	}
	return filepath.Join(home, ".xsync")
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// settingName turns "Config.Remote.BaseURL" into "remote.BaseURL".
func settingName(namespace string) string {
	name := strings.TrimPrefix(namespace, "Config.")
	if i := strings.IndexByte(name, '.'); i > 0 {
		return strings.ToLower(name[:i]) + name[i:]
	}
	return name
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
