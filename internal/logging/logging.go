// Package logging configures the zerolog logger shared by the console.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "CHAOSVIEW_LOG_LEVEL"
	EnvLogNoColor = "CHAOSVIEW_LOG_NOCOLOR"
	EnvLogFile    = "CHAOSVIEW_LOG_FILE"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config selects where and how much to log. Empty fields take the
// profile defaults; environment variables override both.
type Config struct {
	Level   string
	File    string
	NoColor bool
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the logger for app. Output goes to cfg.File when set (the TUI
// owns the terminal) and to fallback otherwise. The returned Closer releases
// the log file.
func New(app string, profile Profile, cfg Config, fallback io.Writer) (zerolog.Logger, io.Closer, error) {
	applyEnvOverrides(&cfg)

	level := zerolog.InfoLevel
	timestamps := true
	if profile == ProfileTest {
		level = zerolog.DebugLevel
		timestamps = false
	}
	if lvl, ok := ParseLevel(cfg.Level); ok {
		level = lvl
	}

	var closer io.Closer = nopCloser{}
	out := fallback
	noColor := cfg.NoColor
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("open log file: %w", err)
		}
		out, closer, noColor = f, f, true
	}
	if out == nil {
		out = os.Stderr
	}

	writer := zerolog.ConsoleWriter{Out: out, NoColor: noColor, TimeFormat: time.RFC3339}
	ctx := zerolog.New(writer).Level(level).With().Str("app", app)
	if timestamps {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger, closer, nil
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.File = v
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvLogNoColor))); err == nil {
		cfg.NoColor = v
	}
}
