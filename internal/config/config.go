// Package config loads the console configuration from defaults, an optional
// TOML file, CHAOSVIEW_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "CHAOSVIEW"
	FileName  = "chaosview.toml"

	KeyServerURL           = "server.url"
	KeyDialTimeout         = "server.dial_timeout"
	KeyWriteTimeout        = "server.write_timeout"
	KeyReconnectEnabled    = "reconnect.enabled"
	KeyReconnectInitial    = "reconnect.initial_delay"
	KeyReconnectMax        = "reconnect.max_delay"
	KeyReconnectMultiplier = "reconnect.multiplier"
	KeyReconnectJitter     = "reconnect.jitter"
	KeyReconnectAttempts   = "reconnect.max_attempts"
	KeyDefaultLatency      = "session.default_latency"
	KeyHomeservers         = "session.homeservers"
	KeyUsers               = "session.users"
	KeyAdoptUnknown        = "session.adopt_unknown_workers"
	KeyUIRefresh           = "ui.refresh"
	KeyLogLevel            = "log.level"
	KeyLogFile             = "log.file"
	KeyMetricsAddr         = "metrics.addr"
)

type ServerConfig struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// ReconnectConfig is the optional redial policy after a transport failure.
// Disabled by default: a dropped connection stays dropped until the user
// connects again.
type ReconnectConfig struct {
	Enabled      bool
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	MaxAttempts  int
}

type SessionConfig struct {
	DefaultLatency      time.Duration
	Homeservers         int
	Users               int
	AdoptUnknownWorkers bool
}

type UIConfig struct {
	Refresh time.Duration
}

type LogConfig struct {
	Level string
	File  string
}

type MetricsConfig struct {
	Addr string
}

type Config struct {
	Server    ServerConfig
	Reconnect ReconnectConfig
	Session   SessionConfig
	UI        UIConfig
	Log       LogConfig
	Metrics   MetricsConfig

	// Path is the config file that was read, empty when none was.
	Path string
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerURL, "ws://localhost:7405")
	v.SetDefault(KeyDialTimeout, 5*time.Second)
	v.SetDefault(KeyWriteTimeout, 2*time.Second)
	v.SetDefault(KeyReconnectEnabled, false)
	v.SetDefault(KeyReconnectInitial, 500*time.Millisecond)
	v.SetDefault(KeyReconnectMax, 10*time.Second)
	v.SetDefault(KeyReconnectMultiplier, 2.0)
	v.SetDefault(KeyReconnectJitter, true)
	v.SetDefault(KeyReconnectAttempts, 0)
	v.SetDefault(KeyDefaultLatency, time.Second)
	v.SetDefault(KeyHomeservers, 2)
	v.SetDefault(KeyUsers, 2)
	v.SetDefault(KeyAdoptUnknown, false)
	v.SetDefault(KeyUIRefresh, 250*time.Millisecond)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, defaultLogFile())
	v.SetDefault(KeyMetricsAddr, "")
}

func defaultLogFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "chaosview.log")
	}
	return filepath.Join(dir, "chaosview", "chaosview.log")
}

// Load reads path (when non-empty) into v and returns the resolved config.
// v may already carry bound flags; nil means a fresh instance.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		Server: ServerConfig{
			URL:          v.GetString(KeyServerURL),
			DialTimeout:  v.GetDuration(KeyDialTimeout),
			WriteTimeout: v.GetDuration(KeyWriteTimeout),
		},
		Reconnect: ReconnectConfig{
			Enabled:      v.GetBool(KeyReconnectEnabled),
			InitialDelay: v.GetDuration(KeyReconnectInitial),
			MaxDelay:     v.GetDuration(KeyReconnectMax),
			Multiplier:   v.GetFloat64(KeyReconnectMultiplier),
			Jitter:       v.GetBool(KeyReconnectJitter),
			MaxAttempts:  v.GetInt(KeyReconnectAttempts),
		},
		Session: SessionConfig{
			DefaultLatency:      v.GetDuration(KeyDefaultLatency),
			Homeservers:         v.GetInt(KeyHomeservers),
			Users:               v.GetInt(KeyUsers),
			AdoptUnknownWorkers: v.GetBool(KeyAdoptUnknown),
		},
		UI:      UIConfig{Refresh: v.GetDuration(KeyUIRefresh)},
		Log:     LogConfig{Level: v.GetString(KeyLogLevel), File: v.GetString(KeyLogFile)},
		Metrics: MetricsConfig{Addr: v.GetString(KeyMetricsAddr)},
		Path:    v.ConfigFileUsed(),
	}

	normalized, err := NormalizeURL(cfg.Server.URL)
	if err != nil {
		return Config{}, err
	}
	cfg.Server.URL = normalized
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyDialTimeout))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyWriteTimeout))
	}
	if c.Session.DefaultLatency <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyDefaultLatency))
	}
	if c.Session.Homeservers < 1 || c.Session.Users < 0 {
		errs = append(errs, fmt.Errorf("%s must be at least 1 and %s not negative", KeyHomeservers, KeyUsers))
	}
	if c.UI.Refresh <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyUIRefresh))
	}
	if c.Reconnect.Enabled {
		if c.Reconnect.InitialDelay <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", KeyReconnectInitial))
		}
		if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
			errs = append(errs, fmt.Errorf("%s must not be below %s", KeyReconnectMax, KeyReconnectInitial))
		}
		if c.Reconnect.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", KeyReconnectAttempts))
		}
	}
	return errors.Join(errs...)
}

// NormalizeURL turns the address a user types into a websocket URL.
// http(s) schemes are rewritten and a missing scheme means ws.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%s is empty", KeyServerURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", KeyServerURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%s: unsupported scheme %q", KeyServerURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%s: missing host in %q", KeyServerURL, raw)
	}
	return u.String(), nil
}

// WriteTOML renders cfg as a config file.
func WriteTOML(w io.Writer, cfg Config) error {
	doc := map[string]any{
		"server": map[string]any{
			"url":           cfg.Server.URL,
			"dial_timeout":  cfg.Server.DialTimeout.String(),
			"write_timeout": cfg.Server.WriteTimeout.String(),
		},
		"reconnect": map[string]any{
			"enabled":       cfg.Reconnect.Enabled,
			"initial_delay": cfg.Reconnect.InitialDelay.String(),
			"max_delay":     cfg.Reconnect.MaxDelay.String(),
			"multiplier":    cfg.Reconnect.Multiplier,
			"jitter":        cfg.Reconnect.Jitter,
			"max_attempts":  cfg.Reconnect.MaxAttempts,
		},
		"session": map[string]any{
			"default_latency":       cfg.Session.DefaultLatency.String(),
			"homeservers":           cfg.Session.Homeservers,
			"users":                 cfg.Session.Users,
			"adopt_unknown_workers": cfg.Session.AdoptUnknownWorkers,
		},
		"ui":      map[string]any{"refresh": cfg.UI.Refresh.String()},
		"log":     map[string]any{"level": cfg.Log.Level, "file": cfg.Log.File},
		"metrics": map[string]any{"addr": cfg.Metrics.Addr},
	}
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(doc)
}
