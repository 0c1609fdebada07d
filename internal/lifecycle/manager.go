// Package lifecycle arms and retires the delayed removals that bound how
// long an in-flight federation request stays visible.
//
// A Manager is owned by a single goroutine (the session event loop). Timer
// callbacks never touch Manager state: they hand an Expiry to the notify
// function, and the owner calls Fire on its own goroutine. Fire accepts an
// Expiry only if it still names the live schedule for its key, which makes
// superseded and cancelled timers harmless even if they already fired.
package lifecycle

import (
	"sort"
	"time"
)

// Expiry identifies one armed removal.
type Expiry struct {
	Key      string
	Token    uint64
	Deadline time.Time
}

type pendingRemoval struct {
	token    uint64
	deadline time.Time
	timer    Timer
}

// Manager tracks at most one pending removal per key.
type Manager struct {
	clock   Clock
	notify  func(Expiry)
	next    uint64
	pending map[string]pendingRemoval
}

// NewManager returns a Manager whose timers report to notify. notify runs on
// the timer goroutine and must only forward the Expiry to the owner.
func NewManager(clock Clock, notify func(Expiry)) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	return &Manager{
		clock:   clock,
		notify:  notify,
		pending: make(map[string]pendingRemoval),
	}
}

// Schedule arms a removal of key after delay, replacing any removal already
// pending for key. The delay is fixed now; later latency changes do not
// move it.
func (m *Manager) Schedule(key string, delay time.Duration) Expiry {
	if delay < 0 {
		delay = 0
	}
	m.Cancel(key)

	m.next++
	exp := Expiry{Key: key, Token: m.next, Deadline: m.clock.Now().Add(delay)}
	notify := m.notify
	timer := m.clock.AfterFunc(delay, func() {
		if notify != nil {
			notify(exp)
		}
	})
	m.pending[key] = pendingRemoval{token: exp.Token, deadline: exp.Deadline, timer: timer}
	return exp
}

// Fire retires exp. It reports whether exp was the live removal for its key,
// in which case the caller must drop the key from the in-flight map. Stale,
// superseded or repeated expiries return false and change nothing.
func (m *Manager) Fire(exp Expiry) bool {
	p, ok := m.pending[exp.Key]
	if !ok || p.token != exp.Token {
		return false
	}
	delete(m.pending, exp.Key)
	return true
}

// Cancel disarms the removal pending for key, if any.
func (m *Manager) Cancel(key string) bool {
	p, ok := m.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(m.pending, key)
	return true
}

// CancelAll disarms every pending removal and returns how many there were.
// Used when a session is torn down so stale timers cannot remove records
// of a later session that reuses a key.
func (m *Manager) CancelAll() int {
	n := len(m.pending)
	for key, p := range m.pending {
		p.timer.Stop()
		delete(m.pending, key)
	}
	return n
}

// Len returns the number of pending removals.
func (m *Manager) Len() int { return len(m.pending) }

// Deadline returns when the removal for key is due.
func (m *Manager) Deadline(key string) (time.Time, bool) {
	p, ok := m.pending[key]
	return p.deadline, ok
}

// Keys returns the keys with a pending removal, sorted.
func (m *Manager) Keys() []string {
	keys := make([]string, 0, len(m.pending))
	for k := range m.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
