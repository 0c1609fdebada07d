package protocol

import "encoding/json"

// Command is one outbound request to the harness. Exactly one field is set
// per message; the harness sends no acknowledgement.
type Command struct {
	Begin            bool     `json:",omitempty"`
	CheckConvergence bool     `json:",omitempty"`
	Netsplit         *bool    `json:",omitempty"`
	RestartServers   []string `json:",omitempty"`
}

// Begin starts the test run.
func Begin() Command { return Command{Begin: true} }

// CheckConvergence asks the harness to verify convergence at the end of the
// current tick.
func CheckConvergence() Command { return Command{CheckConvergence: true} }

// SetNetsplit sets the partition state to started. It is an absolute set,
// not a toggle.
func SetNetsplit(started bool) Command { return Command{Netsplit: &started} }

// RestartServer restarts a single homeserver. The wire format takes a list.
func RestartServer(domain string) Command {
	return Command{RestartServers: []string{domain}}
}

// Name is a short label used for logs and metrics.
func (c Command) Name() string {
	switch {
	case c.Begin:
		return "begin"
	case c.CheckConvergence:
		return "check_convergence"
	case c.Netsplit != nil:
		return "netsplit"
	case len(c.RestartServers) > 0:
		return "restart"
	}
	return "empty"
}

// Encode serializes c for the wire.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}
