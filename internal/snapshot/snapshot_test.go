package snapshot

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/element-hq/chaosview/internal/protocol"
	"github.com/element-hq/chaosview/internal/state"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// newTestState folds events into a fresh state without scheduling removals.
func newTestState(t *testing.T, events ...protocol.Event) state.State {
	t.Helper()
	p := state.NewProjector(state.Options{Clock: clockwork.NewFakeClockAt(epoch)})
	st := state.New(0)
	for _, ev := range events {
		st, _ = p.Apply(st, ev)
	}
	return st
}

func config() *protocol.ConfigPayload {
	return &protocol.ConfigPayload{
		WorkerUserIDs: []string{"@bob:hs2", "@alice:hs1"},
		Config: protocol.ChaosConfig{
			Homeservers: []protocol.HomeserverConfig{{Domain: "hs1"}, {Domain: "hs2"}},
			Test:        protocol.TestConfig{FederationDelayMs: 1000, NumUsers: 2},
		},
	}
}

func TestBuildEmptyState(t *testing.T) {
	snap := Build(state.New(0), epoch)

	if len(snap.Workers) != 0 {
		t.Errorf("expected 0 workers, got %d", len(snap.Workers))
	}
	if len(snap.Requests) != 0 || snap.InFlightCount != 0 {
		t.Errorf("expected no requests, got %d", len(snap.Requests))
	}
	if len(snap.Links) != 0 {
		t.Errorf("expected no links, got %d", len(snap.Links))
	}
	if snap.Convergence != state.NoConvergence {
		t.Errorf("Convergence = %q, want %q", snap.Convergence, state.NoConvergence)
	}
	if snap.Latency != state.DefaultFederationLatency {
		t.Errorf("Latency = %v, want default", snap.Latency)
	}
	if !snap.BuiltAt.Equal(epoch) {
		t.Errorf("BuiltAt = %v, want %v", snap.BuiltAt, epoch)
	}
}

func TestBuildOrdersWorkersByHomeserver(t *testing.T) {
	st := newTestState(t, config(),
		&protocol.WorkerActionPayload{UserID: "@alice:hs1", Action: "join", RoomID: "!room"},
	)
	snap := Build(st, epoch)

	if len(snap.Workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(snap.Workers))
	}
	if snap.Workers[0].UserID != "@alice:hs1" || snap.Workers[1].UserID != "@bob:hs2" {
		t.Errorf("worker order = %s, %s", snap.Workers[0].UserID, snap.Workers[1].UserID)
	}
	w, ok := snap.Worker("@alice:hs1")
	if !ok || w.Action != "join" || w.RoomID != "!room" {
		t.Errorf("alice = %+v, %v", w, ok)
	}
	if _, ok := snap.Worker("@nobody:hs1"); ok {
		t.Error("unexpected worker found")
	}
}

func TestBuildRequestsTiming(t *testing.T) {
	st := newTestState(t, config(),
		&protocol.FederationRequestPayload{ID: "r1", Method: "PUT", URL: "https://hs2/_matrix/federation/v1/send/1"},
		&protocol.FederationRequestPayload{ID: "r2", Method: "GET", URL: "https://hs1:8448/_matrix/key/v2/server", Blocked: true},
	)
	snap := Build(st, epoch.Add(250*time.Millisecond))

	if snap.InFlightCount != 2 || snap.BlockedCount != 1 {
		t.Fatalf("counts = %d in flight, %d blocked", snap.InFlightCount, snap.BlockedCount)
	}
	for _, r := range snap.Requests {
		if r.Remaining != 750*time.Millisecond {
			t.Errorf("%s remaining = %v, want 750ms", r.ID, r.Remaining)
		}
		if r.Progress != 0.25 {
			t.Errorf("%s progress = %v, want 0.25", r.ID, r.Progress)
		}
	}

	links := map[string]Link{}
	for _, l := range snap.Links {
		links[l.Source+"->"+l.Target] = l
	}
	if got := links["hs1->hs2"]; got.InFlight != 1 || got.Blocked != 0 {
		t.Errorf("hs1->hs2 = %+v", got)
	}
	if got := links["hs2->hs1"]; got.InFlight != 1 || got.Blocked != 1 {
		t.Errorf("hs2->hs1 = %+v", got)
	}
}

func TestBuildClampsOverdueRequests(t *testing.T) {
	st := newTestState(t, config(), &protocol.FederationRequestPayload{ID: "r1", URL: "https://hs2/x"})
	snap := Build(st, epoch.Add(5*time.Second))
	r := snap.Requests[0]
	if r.Remaining != 0 || r.Progress != 1 {
		t.Errorf("overdue request = %+v, want remaining 0 progress 1", r)
	}
}

func TestBuildCopiesFlags(t *testing.T) {
	st := newTestState(t, config(),
		&protocol.NetsplitPayload{Started: true},
		&protocol.RestartPayload{Domain: "hs2"},
		&protocol.ConvergencePayload{Error: "diverged"},
		&protocol.TickGenerationPayload{Number: 9},
	).WithConnected(true)
	snap := Build(st, epoch)

	if !snap.Connected || !snap.Configured || !snap.Netsplit {
		t.Errorf("flags = connected %v configured %v netsplit %v", snap.Connected, snap.Configured, snap.Netsplit)
	}
	if !snap.IsRestarting("hs2") || snap.IsRestarting("hs1") {
		t.Errorf("Restarting = %v", snap.Restarting)
	}
	if !snap.ConvergenceFailed || snap.Convergence != "ERROR: diverged" {
		t.Errorf("convergence = %q failed=%v", snap.Convergence, snap.ConvergenceFailed)
	}
	if snap.Tick.Number != 9 {
		t.Errorf("Tick = %d, want 9", snap.Tick.Number)
	}
}

func TestTargetDomain(t *testing.T) {
	hs := []string{"hs1", "hs2:8448"}
	tests := []struct {
		url  string
		want string
	}{
		{"https://hs1/_matrix", "hs1"},
		{"https://hs1:8008/_matrix", "hs1"},
		{"https://hs2:8448/_matrix", "hs2:8448"},
		{"https://elsewhere/x", "elsewhere"},
		{"not a url", ""},
	}
	for _, tt := range tests {
		if got := TargetDomain(tt.url, hs); got != tt.want {
			t.Errorf("TargetDomain(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
