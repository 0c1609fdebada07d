// Package state holds the canonical console session state and the projector
// that folds protocol events into it.
//
// A State value is immutable once published: every transition that changes
// a map replaces it with a fresh copy, so a reader holding an older State
// (or comparing two States shallowly) never observes a partial update.
package state

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

const (
	// NoAction is the action label of a worker that has not acted yet.
	NoAction = "-"
	// NoConvergence is the convergence label before the first check.
	NoConvergence = "-"
	// DefaultFederationLatency applies until a config event supplies one.
	DefaultFederationLatency = time.Second
)

// Session is the configuration received from the harness.
type Session struct {
	Homeservers       []string
	WorkerUserIDs     []string
	NumUsers          int
	FederationLatency time.Duration
}

// Tick is the latest simulation step.
type Tick struct {
	Number int
	Joins  int
	Sends  int
	Leaves int
}

// Convergence is the result of the last convergence check. When Error is
// set the check failed and State is empty.
type Convergence struct {
	State string
	Error string
}

// Failed reports whether the last check returned an error.
func (c Convergence) Failed() bool { return c.Error != "" }

// Label renders the result for display.
func (c Convergence) Label() string {
	if c.Failed() {
		return "ERROR: " + c.Error
	}
	if c.State == "" {
		return NoConvergence
	}
	return c.State
}

// WorkerAction is the most recent action of one simulated user.
type WorkerAction struct {
	UserID  string
	Domain  string
	Ordinal int
	RoomID  string
	Action  string
}

// FederationRequest is one in-flight server-server request.
type FederationRequest struct {
	ID       string
	Method   string
	URL      string
	Body     json.RawMessage
	Blocked  bool
	Admitted time.Time
	Latency  time.Duration
}

// Deadline is when the request stops being in flight.
func (r FederationRequest) Deadline() time.Time { return r.Admitted.Add(r.Latency) }

// State is the full console view model.
type State struct {
	Session     Session
	Configured  bool
	Connected   bool
	Tick        Tick
	Convergence Convergence
	Netsplit    bool
	Workers     map[string]WorkerAction
	InFlight    map[string]FederationRequest
	Restarting  map[string]struct{}
	Topology    Topology
}

// New returns the state of a session that has not received its config yet.
func New(latency time.Duration) State {
	if latency <= 0 {
		latency = DefaultFederationLatency
	}
	return State{
		Session:    Session{FederationLatency: latency},
		Workers:    map[string]WorkerAction{},
		InFlight:   map[string]FederationRequest{},
		Restarting: map[string]struct{}{},
	}
}

// WithConnected returns s with the transport flag set.
func (s State) WithConnected(connected bool) State {
	s.Connected = connected
	return s
}

// IsRestarting reports whether domain is between restart start and finish.
func (s State) IsRestarting(domain string) bool {
	_, ok := s.Restarting[domain]
	return ok
}

// RestartingDomains returns the restarting domains, sorted.
func (s State) RestartingDomains() []string {
	out := make([]string, 0, len(s.Restarting))
	for d := range s.Restarting {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// InFlightKeys returns the in-flight request IDs, sorted.
func (s State) InFlightKeys() []string {
	out := make([]string, 0, len(s.InFlight))
	for k := range s.InFlight {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DomainOf returns the server part of a user ID such as "@alice:hs1".
// Everything after the first colon is the domain, so ports are kept.
func DomainOf(userID string) string {
	_, domain, ok := strings.Cut(userID, ":")
	if !ok {
		return ""
	}
	return domain
}
