package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"debug", zerolog.DebugLevel, true},
		{" WARNING ", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"", zerolog.InfoLevel, false},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNewWritesToFallback(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvLogFile, "")
	var buf bytes.Buffer
	logger, closer, err := New("chv", ProfileTest, Config{NoColor: true}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()

	logger.Debug().Str("session_id", "abc").Msg("hello")
	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "session_id=abc") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFile, "")
	var buf bytes.Buffer
	logger, closer, err := New("chv", ProfileTest, Config{}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()

	logger.Warn().Msg("quiet")
	if buf.Len() != 0 {
		t.Errorf("warn should be filtered at error level, got %q", buf.String())
	}
}

func TestNewWritesFile(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	path := filepath.Join(t.TempDir(), "logs", "chaosview.log")
	t.Setenv(EnvLogFile, path)

	logger, closer, err := New("chv", ProfileRuntime, Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info().Msg("to file")
	closer.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(b), "to file") {
		t.Errorf("log file = %q", string(b))
	}
}
