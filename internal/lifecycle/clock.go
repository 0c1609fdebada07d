package lifecycle

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is the handle for a pending AfterFunc callback.
type Timer = clockwork.Timer

// Clock supplies time and delayed callbacks. Both clockwork.NewRealClock and
// clockwork.NewFakeClock satisfy it.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return clockwork.NewRealClock()
}
