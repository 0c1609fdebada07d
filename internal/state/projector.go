package state

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/element-hq/chaosview/internal/lifecycle"
	"github.com/element-hq/chaosview/internal/protocol"
)

var (
	// ErrUnknownUser is reported when a worker action names a user that was
	// not in the session config.
	ErrUnknownUser = errors.New("action for unknown user")
	// ErrDegradedConfig is reported when the harness config is outside what
	// the console renders faithfully. Processing continues.
	ErrDegradedConfig = errors.New("unsupported chaos configuration")
)

// Scheduler arms the delayed removal of an in-flight request.
type Scheduler interface {
	Schedule(key string, delay time.Duration) lifecycle.Expiry
}

// Limits describes the deployment shape the console supports.
type Limits struct {
	Homeservers int
	Users       int
}

// DefaultLimits is two homeservers with one user each.
var DefaultLimits = Limits{Homeservers: 2, Users: 2}

// Options configures a Projector.
type Options struct {
	Clock     lifecycle.Clock
	Scheduler Scheduler
	Limits    Limits
	// AdoptUnknownWorkers creates a record for an action from an unknown
	// user instead of dropping it. ErrUnknownUser is reported either way.
	AdoptUnknownWorkers bool
}

// Projector folds events into State. It is not safe for concurrent use;
// the session event loop owns it.
type Projector struct {
	clock  lifecycle.Clock
	sched  Scheduler
	limits Limits
	adopt  bool
}

func NewProjector(opts Options) *Projector {
	if opts.Clock == nil {
		opts.Clock = lifecycle.SystemClock()
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits
	}
	return &Projector{
		clock:  opts.Clock,
		sched:  opts.Scheduler,
		limits: opts.Limits,
		adopt:  opts.AdoptUnknownWorkers,
	}
}

// Apply returns the state after ev. The returned error is a warning: the
// returned State is always the one to publish.
func (p *Projector) Apply(s State, ev protocol.Event) (State, error) {
	switch ev := ev.(type) {
	case *protocol.ConfigPayload:
		return p.onConfig(s, ev)
	case *protocol.WorkerActionPayload:
		return p.onWorkerAction(s, ev)
	case *protocol.TickGenerationPayload:
		s.Tick = Tick{Number: ev.Number, Joins: ev.Joins, Sends: ev.Sends, Leaves: ev.Leaves}
		return s, nil
	case *protocol.ConvergencePayload:
		if ev.Error != "" {
			s.Convergence = Convergence{Error: ev.Error}
		} else {
			s.Convergence = Convergence{State: ev.State}
		}
		return s, nil
	case *protocol.NetsplitPayload:
		s.Netsplit = ev.Started
		return s, nil
	case *protocol.FederationRequestPayload:
		return p.onFederationRequest(s, ev), nil
	case *protocol.RestartPayload:
		return onRestart(s, ev), nil
	case nil:
		return s, nil
	default:
		return s, fmt.Errorf("unhandled event kind %s", ev.Kind())
	}
}

// Expire drops key from the in-flight map. Absent keys are a no-op.
func (p *Projector) Expire(s State, key string) State {
	if _, ok := s.InFlight[key]; !ok {
		return s
	}
	next := maps.Clone(s.InFlight)
	delete(next, key)
	s.InFlight = next
	return s
}

func (p *Projector) onConfig(s State, ev *protocol.ConfigPayload) (State, error) {
	warn := ValidateConfig(ev.Config, ev.WorkerUserIDs, p.limits)

	if ms := ev.Config.Test.FederationDelayMs; ms > 0 {
		s.Session.FederationLatency = time.Duration(ms) * time.Millisecond
	}
	s.Session.Homeservers = ev.Config.Domains()
	s.Session.WorkerUserIDs = append([]string(nil), ev.WorkerUserIDs...)
	s.Session.NumUsers = ev.Config.Test.NumUsers

	workers := make(map[string]WorkerAction, len(ev.WorkerUserIDs))
	ordinals := map[string]int{}
	for _, id := range ev.WorkerUserIDs {
		if _, dup := workers[id]; dup {
			continue
		}
		domain := DomainOf(id)
		workers[id] = WorkerAction{UserID: id, Domain: domain, Ordinal: ordinals[domain], Action: NoAction}
		ordinals[domain]++
	}
	s.Workers = workers
	s.Topology = buildTopology(s.Session.Homeservers, workers)
	s.Configured = true
	return s, warn
}

func (p *Projector) onWorkerAction(s State, ev *protocol.WorkerActionPayload) (State, error) {
	var warn error
	rec, ok := s.Workers[ev.UserID]
	if !ok {
		warn = fmt.Errorf("%w: %s", ErrUnknownUser, ev.UserID)
		if !p.adopt {
			return s, warn
		}
		domain := DomainOf(ev.UserID)
		ordinal := 0
		for _, w := range s.Workers {
			if w.Domain == domain {
				ordinal++
			}
		}
		rec = WorkerAction{UserID: ev.UserID, Domain: domain, Ordinal: ordinal}
	}
	rec.RoomID = ev.RoomID
	rec.Action = strings.TrimSpace(ev.Action + " " + ev.Body)

	next := maps.Clone(s.Workers)
	if next == nil {
		next = map[string]WorkerAction{}
	}
	next[ev.UserID] = rec
	s.Workers = next
	if !ok {
		s.Topology = buildTopology(s.Session.Homeservers, next)
	}
	return s, warn
}

func (p *Projector) onFederationRequest(s State, ev *protocol.FederationRequestPayload) State {
	latency := s.Session.FederationLatency
	rec := FederationRequest{
		ID:       ev.ID,
		Method:   ev.Method,
		URL:      ev.URL,
		Body:     ev.Body,
		Blocked:  ev.Blocked,
		Admitted: p.clock.Now(),
		Latency:  latency,
	}
	next := maps.Clone(s.InFlight)
	if next == nil {
		next = map[string]FederationRequest{}
	}
	next[ev.ID] = rec
	s.InFlight = next
	if p.sched != nil {
		p.sched.Schedule(ev.ID, latency)
	}
	return s
}

func onRestart(s State, ev *protocol.RestartPayload) State {
	_, present := s.Restarting[ev.Domain]
	if ev.Finished == !present {
		return s
	}
	next := maps.Clone(s.Restarting)
	if next == nil {
		next = map[string]struct{}{}
	}
	if ev.Finished {
		delete(next, ev.Domain)
	} else {
		next[ev.Domain] = struct{}{}
	}
	s.Restarting = next
	return s
}

// ValidateConfig reports every way cfg departs from limits, wrapped in
// ErrDegradedConfig, or nil when it is fully supported. workerIDs may be nil
// when only the harness file is known.
func ValidateConfig(cfg protocol.ChaosConfig, workerIDs []string, limits Limits) error {
	var findings []string
	if n := len(cfg.Homeservers); n != limits.Homeservers {
		findings = append(findings, fmt.Sprintf("%d homeservers configured, console supports %d", n, limits.Homeservers))
	}
	if cfg.Test.NumUsers != limits.Users {
		findings = append(findings, fmt.Sprintf("num_users=%d, console supports %d", cfg.Test.NumUsers, limits.Users))
	}
	known := map[string]bool{}
	for _, d := range cfg.Domains() {
		known[d] = true
	}
	for _, id := range workerIDs {
		if d := DomainOf(id); !known[d] {
			findings = append(findings, fmt.Sprintf("worker %s is not on a configured homeserver", id))
		}
	}
	if len(findings) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDegradedConfig, strings.Join(findings, "; "))
}
