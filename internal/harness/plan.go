package harness

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/element-hq/chaosview/internal/protocol"
)

// Commander sends one command to the harness.
type Commander interface {
	Send(ctx context.Context, cmd protocol.Command) error
}

// Plan is the schedule of chaos the headless follower injects.
// A zero interval disables the corresponding loop.
type Plan struct {
	NetsplitFree        time.Duration
	NetsplitDuration    time.Duration
	RestartInterval     time.Duration
	RoundRobin          []string
	ConvergenceInterval time.Duration
}

// PlanFrom derives a Plan from the harness test section.
func PlanFrom(tc protocol.TestConfig) Plan {
	p := Plan{
		NetsplitFree:     secs(tc.Netsplits.FreeSecs),
		NetsplitDuration: secs(tc.Netsplits.DurationSecs),
		RestartInterval:  secs(tc.Restarts.IntervalSecs),
		RoundRobin:       append([]string(nil), tc.Restarts.RoundRobin...),
	}
	if tc.Convergence.Enabled {
		p.ConvergenceInterval = secs(tc.Convergence.IntervalSecs)
	}
	return p
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// Empty reports whether no loop would run.
func (p Plan) Empty() bool {
	return p.NetsplitDuration <= 0 &&
		(p.RestartInterval <= 0 || len(p.RoundRobin) == 0) &&
		p.ConvergenceInterval <= 0
}

// Run drives every enabled loop until ctx is done. Send failures are logged
// and the loop carries on with its schedule.
func (p Plan) Run(ctx context.Context, cmd Commander, log zerolog.Logger) {
	var wg sync.WaitGroup
	start := func(name string, fn func(send func(protocol.Command))) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(func(c protocol.Command) {
				if err := cmd.Send(ctx, c); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Str("loop", name).Str("command", c.Name()).Msg("orchestration command failed")
				}
			})
		}()
	}

	if p.NetsplitDuration > 0 {
		start("netsplit", func(send func(protocol.Command)) {
			for {
				if !sleep(ctx, p.NetsplitFree) {
					return
				}
				send(protocol.SetNetsplit(true))
				if !sleep(ctx, p.NetsplitDuration) {
					return
				}
				send(protocol.SetNetsplit(false))
			}
		})
	}
	if p.RestartInterval > 0 && len(p.RoundRobin) > 0 {
		start("restart", func(send func(protocol.Command)) {
			for i := 0; ; i++ {
				next := p.RoundRobin[i%len(p.RoundRobin)]
				if !sleep(ctx, p.RestartInterval) {
					return
				}
				send(protocol.RestartServer(next))
			}
		})
	}
	if p.ConvergenceInterval > 0 {
		start("convergence", func(send func(protocol.Command)) {
			for sleep(ctx, p.ConvergenceInterval) {
				send(protocol.CheckConvergence())
			}
		})
	}
	wg.Wait()
}

// sleep waits for d or ctx, reporting false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
