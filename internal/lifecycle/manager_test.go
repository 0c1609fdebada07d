package lifecycle

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// harness wires a Manager to a fake clock. Timer callbacks only queue their
// Expiry; advance retires them on the test goroutine as the owner loop
// would, recording which keys were removed.
type harness struct {
	t       *testing.T
	clock   *clockwork.FakeClock
	mgr     *Manager
	fired   chan Expiry
	removed []string
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, clock: clockwork.NewFakeClockAt(epoch), fired: make(chan Expiry, 64)}
	h.mgr = NewManager(h.clock, func(e Expiry) { h.fired <- e })
	return h
}

// advance moves the clock by d and retires every removal that came due.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	target := h.clock.Now().Add(d)
	due := 0
	for _, key := range h.mgr.Keys() {
		if at, _ := h.mgr.Deadline(key); !at.After(target) {
			due++
		}
	}
	h.clock.Advance(d)
	for i := 0; i < due; i++ {
		select {
		case e := <-h.fired:
			if h.mgr.Fire(e) {
				h.removed = append(h.removed, e.Key)
			}
		case <-time.After(2 * time.Second):
			h.t.Fatalf("timed out waiting for %d expiries, got %d", due, i)
		}
	}
}

// armed waits until exactly n timers are pending on the clock.
func (h *harness) armed(n int) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, n); err != nil {
		h.t.Fatalf("clock never reached %d armed timers: %v", n, err)
	}
}

func TestScheduleFiresAtDeadline(t *testing.T) {
	h := newHarness(t)
	exp := h.mgr.Schedule("r1", 500*time.Millisecond)
	if !exp.Deadline.Equal(epoch.Add(500 * time.Millisecond)) {
		t.Fatalf("Deadline = %v, want %v", exp.Deadline, epoch.Add(500*time.Millisecond))
	}

	h.advance(499 * time.Millisecond)
	if len(h.removed) != 0 {
		t.Fatalf("removed early: %v", h.removed)
	}
	if h.mgr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.mgr.Len())
	}

	h.advance(time.Millisecond)
	if !reflect.DeepEqual(h.removed, []string{"r1"}) {
		t.Fatalf("removed = %v, want [r1]", h.removed)
	}
	if h.mgr.Len() != 0 {
		t.Errorf("Len() after fire = %d, want 0", h.mgr.Len())
	}
}

func TestScheduleSupersedesExisting(t *testing.T) {
	h := newHarness(t)
	h.mgr.Schedule("r1", 100*time.Millisecond)
	h.advance(50 * time.Millisecond)
	h.mgr.Schedule("r1", 100*time.Millisecond)
	h.armed(1)

	h.advance(60 * time.Millisecond) // past the first deadline
	if len(h.removed) != 0 {
		t.Fatalf("superseded removal fired: %v", h.removed)
	}
	h.advance(40 * time.Millisecond)
	if !reflect.DeepEqual(h.removed, []string{"r1"}) {
		t.Fatalf("removed = %v, want exactly one r1", h.removed)
	}
	select {
	case e := <-h.fired:
		t.Errorf("unexpected extra expiry %+v", e)
	default:
	}
}

func TestFireIsIdempotent(t *testing.T) {
	h := newHarness(t)
	exp := h.mgr.Schedule("r1", time.Second)
	if !h.mgr.Fire(exp) {
		t.Fatal("first Fire should report the live removal")
	}
	if h.mgr.Fire(exp) {
		t.Error("second Fire should be a no-op")
	}
	if h.mgr.Fire(Expiry{Key: "never-scheduled", Token: 42}) {
		t.Error("Fire for unknown key should be a no-op")
	}
}

func TestFireRejectsStaleToken(t *testing.T) {
	h := newHarness(t)
	old := h.mgr.Schedule("r1", time.Second)
	h.mgr.Schedule("r1", time.Second)
	if h.mgr.Fire(old) {
		t.Error("stale expiry must not retire the replacement")
	}
	if h.mgr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.mgr.Len())
	}
}

func TestCancelAll(t *testing.T) {
	h := newHarness(t)
	h.mgr.Schedule("a", time.Second)
	h.mgr.Schedule("b", 2*time.Second)
	stale := h.mgr.Schedule("c", 3*time.Second)
	h.armed(3)

	if n := h.mgr.CancelAll(); n != 3 {
		t.Errorf("CancelAll() = %d, want 3", n)
	}
	h.armed(0)

	// A new session reuses key "c"; the old expiry must not touch it.
	h.mgr.Schedule("c", 10*time.Second)
	if h.mgr.Fire(stale) {
		t.Error("expiry from before CancelAll retired a new schedule")
	}
	h.advance(5 * time.Second)
	if len(h.removed) != 0 {
		t.Errorf("removed = %v, want none", h.removed)
	}
}

func TestIndependentDeadlines(t *testing.T) {
	h := newHarness(t)
	h.mgr.Schedule("slow", 1000*time.Millisecond)
	h.advance(200 * time.Millisecond)
	h.mgr.Schedule("fast", 100*time.Millisecond)

	h.advance(100 * time.Millisecond)
	if !reflect.DeepEqual(h.removed, []string{"fast"}) {
		t.Fatalf("removed = %v, want [fast]", h.removed)
	}
	if got := h.mgr.Keys(); !reflect.DeepEqual(got, []string{"slow"}) {
		t.Errorf("Keys() = %v, want [slow]", got)
	}
	if d, ok := h.mgr.Deadline("slow"); !ok || !d.Equal(epoch.Add(time.Second)) {
		t.Errorf("Deadline(slow) = %v, %v", d, ok)
	}
	h.advance(700 * time.Millisecond)
	if !reflect.DeepEqual(h.removed, []string{"fast", "slow"}) {
		t.Errorf("removed = %v, want [fast slow]", h.removed)
	}
}

func TestNegativeDelayFiresImmediately(t *testing.T) {
	h := newHarness(t)
	exp := h.mgr.Schedule("r1", -time.Second)
	if !exp.Deadline.Equal(epoch) {
		t.Errorf("Deadline = %v, want %v", exp.Deadline, epoch)
	}
	h.advance(0)
	if !reflect.DeepEqual(h.removed, []string{"r1"}) {
		t.Errorf("removed = %v, want [r1]", h.removed)
	}
}
