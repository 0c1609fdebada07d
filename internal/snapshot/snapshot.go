// Package snapshot builds immutable, presentation-ready views of the console
// state.
//
// A DataSnapshot captures the session at one instant: workers in diagram
// order, in-flight federation requests with their remaining time, per-link
// traffic and counts. Snapshots are rebuilt whenever the session publishes
// a new State (and on the UI refresh tick, so remaining times move) and are
// swapped wholesale into the UI model.
package snapshot

import (
	"net/url"
	"sort"
	"time"

	"github.com/element-hq/chaosview/internal/state"
)

// Worker is one simulated client.
type Worker struct {
	UserID  string
	Domain  string
	Ordinal int
	RoomID  string
	Action  string
}

// Request is one in-flight federation request.
type Request struct {
	ID        string
	Method    string
	URL       string
	Blocked   bool
	Source    string
	Target    string
	Age       time.Duration
	Remaining time.Duration
	// Progress runs from 0 at admission to 1 at the deadline.
	Progress float64
}

// Link is traffic on one federation edge.
type Link struct {
	Source   string
	Target   string
	InFlight int
	Blocked  int
}

// DataSnapshot is an immutable, self-contained view of the session.
type DataSnapshot struct {
	Connected   bool
	Configured  bool
	Homeservers []string
	Latency     time.Duration

	Tick              state.Tick
	Convergence       string
	ConvergenceFailed bool
	Netsplit          bool

	Workers    []Worker
	Requests   []Request
	Links      []Link
	Restarting []string

	// Counts.
	InFlightCount int
	BlockedCount  int

	// Timestamp of snapshot creation.
	BuiltAt time.Time
}

// Build derives a snapshot of st as seen at now.
func Build(st state.State, now time.Time) *DataSnapshot {
	snap := &DataSnapshot{
		Connected:         st.Connected,
		Configured:        st.Configured,
		Homeservers:       append([]string(nil), st.Session.Homeservers...),
		Latency:           st.Session.FederationLatency,
		Tick:              st.Tick,
		Convergence:       st.Convergence.Label(),
		ConvergenceFailed: st.Convergence.Failed(),
		Netsplit:          st.Netsplit,
		Restarting:        st.RestartingDomains(),
		BuiltAt:           now,
	}

	order := make(map[string]int, len(snap.Homeservers))
	for i, d := range snap.Homeservers {
		order[d] = i
	}
	for _, w := range st.Workers {
		snap.Workers = append(snap.Workers, Worker{
			UserID: w.UserID, Domain: w.Domain, Ordinal: w.Ordinal, RoomID: w.RoomID, Action: w.Action,
		})
	}
	sort.Slice(snap.Workers, func(i, j int) bool {
		a, b := snap.Workers[i], snap.Workers[j]
		oa, okA := order[a.Domain]
		ob, okB := order[b.Domain]
		if okA != okB {
			return okA
		}
		if oa != ob {
			return oa < ob
		}
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		return a.Ordinal < b.Ordinal
	})

	links := map[[2]string]*Link{}
	for _, src := range snap.Homeservers {
		for _, dst := range snap.Homeservers {
			if src != dst {
				links[[2]string{src, dst}] = &Link{Source: src, Target: dst}
			}
		}
	}

	for _, r := range st.InFlight {
		req := Request{
			ID:      r.ID,
			Method:  r.Method,
			URL:     r.URL,
			Blocked: r.Blocked,
			Target:  TargetDomain(r.URL, snap.Homeservers),
			Age:     now.Sub(r.Admitted),
		}
		req.Source = sourceDomain(req.Target, snap.Homeservers)
		req.Remaining = r.Deadline().Sub(now)
		if req.Remaining < 0 {
			req.Remaining = 0
		}
		if r.Latency > 0 {
			req.Progress = min(1, max(0, float64(req.Age)/float64(r.Latency)))
		} else {
			req.Progress = 1
		}
		snap.Requests = append(snap.Requests, req)
		snap.InFlightCount++
		if r.Blocked {
			snap.BlockedCount++
		}
		if l, ok := links[[2]string{req.Source, req.Target}]; ok {
			l.InFlight++
			if r.Blocked {
				l.Blocked++
			}
		}
	}
	sort.Slice(snap.Requests, func(i, j int) bool {
		a, b := snap.Requests[i], snap.Requests[j]
		if a.Age != b.Age {
			return a.Age > b.Age
		}
		return a.ID < b.ID
	})

	for _, src := range snap.Homeservers {
		for _, dst := range snap.Homeservers {
			if l, ok := links[[2]string{src, dst}]; ok {
				snap.Links = append(snap.Links, *l)
			}
		}
	}
	return snap
}

// Worker returns the worker with userID, if present.
func (s *DataSnapshot) Worker(userID string) (Worker, bool) {
	for _, w := range s.Workers {
		if w.UserID == userID {
			return w, true
		}
	}
	return Worker{}, false
}

// IsRestarting reports whether domain is restarting.
func (s *DataSnapshot) IsRestarting(domain string) bool {
	for _, d := range s.Restarting {
		if d == domain {
			return true
		}
	}
	return false
}

// TargetDomain picks the homeserver a federation URL is addressed to. The
// host (with or without port) is matched against the configured domains.
func TargetDomain(rawURL string, homeservers []string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	for _, d := range homeservers {
		if u.Host == d {
			return d
		}
	}
	for _, d := range homeservers {
		if u.Hostname() == d {
			return d
		}
	}
	return u.Hostname()
}

// sourceDomain infers the sender. The harness only reports the destination,
// so this is exact for two homeservers and unknown otherwise.
func sourceDomain(target string, homeservers []string) string {
	if len(homeservers) != 2 {
		return ""
	}
	switch target {
	case homeservers[0]:
		return homeservers[1]
	case homeservers[1]:
		return homeservers[0]
	}
	return ""
}
