// Package harness reads the chaos harness configuration file and drives the
// headless orchestration loops that exercise a running harness.
package harness

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/element-hq/chaosview/internal/protocol"
	"github.com/element-hq/chaosview/internal/state"
)

// OpenFile loads a harness YAML config.
func OpenFile(path string) (*protocol.ChaosConfig, error) {
	input, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read harness config %s: %w", path, err)
	}
	return Parse(input)
}

// Parse decodes a harness YAML document.
func Parse(input []byte) (*protocol.ChaosConfig, error) {
	var cfg protocol.ChaosConfig
	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return nil, fmt.Errorf("parse harness config: %w", err)
	}
	return &cfg, nil
}

// Severity of a Finding.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Finding is one compatibility issue between a harness config and the console.
type Finding struct {
	Severity Severity
	Message  string
}

func (f Finding) String() string { return fmt.Sprintf("%s: %s", f.Severity, f.Message) }

var hsDomain = regexp.MustCompile(`^hs[0-9]+$`)

// Check reports what the console would render in degraded mode for cfg.
// An empty result means the config is fully supported.
func Check(cfg *protocol.ChaosConfig, limits state.Limits) []Finding {
	var out []Finding
	if err := state.ValidateConfig(*cfg, nil, limits); err != nil {
		out = append(out, Finding{Severity: SeverityWarn, Message: err.Error()})
	}

	seen := map[string]bool{}
	for i, hs := range cfg.Homeservers {
		switch {
		case hs.Domain == "":
			out = append(out, Finding{Severity: SeverityError, Message: fmt.Sprintf("homeserver %d has no domain", i)})
			continue
		case seen[hs.Domain]:
			out = append(out, Finding{Severity: SeverityError, Message: fmt.Sprintf("homeserver %s listed twice", hs.Domain)})
		case !hsDomain.MatchString(hs.Domain):
			out = append(out, Finding{Severity: SeverityWarn, Message: fmt.Sprintf("homeserver %s is not named hsN; restart keys follow config order", hs.Domain)})
		}
		seen[hs.Domain] = true
	}

	for _, d := range cfg.Test.Restarts.RoundRobin {
		if !seen[d] {
			out = append(out, Finding{Severity: SeverityError, Message: fmt.Sprintf("restarts.round_robin names unknown homeserver %s", d)})
		}
	}
	if cfg.Test.Netsplits.DurationSecs > 0 && cfg.Test.Netsplits.FreeSecs <= 0 {
		out = append(out, Finding{Severity: SeverityWarn, Message: "netsplits.free_secs is 0: partitions restart immediately after healing"})
	}
	if cfg.Test.Convergence.Enabled && cfg.Test.Convergence.IntervalSecs <= 0 && cfg.Test.Convergence.CheckEveryNTicks <= 0 {
		out = append(out, Finding{Severity: SeverityWarn, Message: "convergence is enabled but no interval is set"})
	}
	return out
}

// HasErrors reports whether any finding is an error.
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}
