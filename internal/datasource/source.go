// Package datasource discovers and watches the console configuration file.
package datasource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/element-hq/chaosview/internal/config"
)

// EnvConfig names an explicit config file.
const EnvConfig = "CHAOSVIEW_CONFIG"

// ErrNoConfig means no config file exists; defaults apply.
var ErrNoConfig = errors.New("no chaosview config file found")

// Discover finds the console config file.
// Priority: CHAOSVIEW_CONFIG env var > chaosview.toml in CWD > walk up
// parents > the user config dir.
func Discover() (string, error) {
	if env := os.Getenv(EnvConfig); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env, nil
		}
		return "", fmt.Errorf("%s=%q: %w", EnvConfig, env, os.ErrNotExist)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, config.FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if cfgDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(cfgDir, "chaosview", config.FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w (looked for %s)", ErrNoConfig, config.FileName)
}
