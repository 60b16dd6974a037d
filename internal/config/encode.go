package config

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Settings returns the configuration as nested maps keyed by setting name,
// with durations rendered as strings and secrets masked.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"data_dir": c.DataDir,
		"remote": map[string]any{
			"base_url":       c.Remote.BaseURL,
			"api_key":        mask(c.Remote.APIKey),
			"timeout":        c.Remote.Timeout.String(),
			"scope_latest":   c.Remote.ScopeLatest,
			"private":        c.Remote.Private,
			"max_body_bytes": c.Remote.MaxBodyBytes,
		},
		"sync": map[string]any{
			"debounce":       c.Sync.Debounce.String(),
			"interval":       c.Sync.Interval.String(),
			"initial_delay":  c.Sync.InitialDelay.String(),
			"offline":        c.Sync.Offline,
			"probe_interval": c.Sync.ProbeInterval.String(),
		},
		"share": map[string]any{
			"base_url": c.Share.BaseURL,
		},
		"store": map[string]any{
			"path":            c.Store.Path,
			"max_value_bytes": c.Store.MaxValueBytes,
		},
		"log": map[string]any{
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
			"quiet":        c.Log.Quiet,
		},
		"inbox": map[string]any{
			"dir": c.Inbox.Dir,
		},
		"dashboard": map[string]any{
			"port": c.Dashboard.Port,
		},
		"blobd": map[string]any{
			"addr":              c.Blobd.Addr,
			"backend":           c.Blobd.Backend,
			"api_key":           mask(c.Blobd.APIKey),
			"sqlite_path":       c.Blobd.SQLitePath,
			"redis_url":         maskURL(c.Blobd.RedisURL),
			"max_payload_bytes": c.Blobd.MaxPayloadBytes,
		},
	}
}

// Encode writes Settings to w as "toml" or "yaml".
func (c *Config) Encode(w io.Writer, format string) error {
	settings := c.Settings()

	switch strings.ToLower(format) {
	case "toml", "":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(settings); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		_, err := w.Write(buf.Bytes())
		return err
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(settings); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want toml or yaml)", format)
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func maskURL(u string) string {
	at := strings.LastIndex(u, "@")
	scheme := strings.Index(u, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return u
	}
	return u[:scheme+3] + "****" + u[at:]
}
