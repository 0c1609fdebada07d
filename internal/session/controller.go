// Package session owns the connection to the chaos harness.
//
// A Controller runs one event loop goroutine that is the only writer of the
// session state, the lifecycle manager and the transport. Readers, timers
// and callers hand work to the loop; the current State is published through
// an atomic pointer so presentation code can read it at any time.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/element-hq/chaosview/internal/lifecycle"
	"github.com/element-hq/chaosview/internal/metrics"
	"github.com/element-hq/chaosview/internal/protocol"
	"github.com/element-hq/chaosview/internal/state"
)

var (
	// ErrNotConnected is returned by commands sent without a live transport.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

// Update is published after every state change. Event is nil for changes
// that were not caused by an inbound event (connect, disconnect, expiry).
type Update struct {
	State     state.State
	Event     protocol.Event
	SessionID string
	Addr      string
}

// Observer receives updates on the event loop. It must not block or call
// back into the Controller.
type Observer func(Update)

// Controller is the Session Controller.
type Controller struct {
	dialer    Dialer
	opts      options
	log       zerolog.Logger
	projector *state.Projector
	timers    *lifecycle.Manager

	current atomic.Pointer[state.State]

	ops       chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Owned by the loop.
	st        state.State
	conn      Conn
	gen       uint64
	addr      string
	sessionID string
	attempt   int
	retry     lifecycle.Timer
}

// New wires the projector, the lifecycle manager and the observers, and
// starts the event loop. Wiring happens here once; Connect only swaps the
// transport.
func New(dialer Dialer, opts ...Option) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Controller{
		dialer:  dialer,
		opts:    o,
		log:     o.log.With().Str("component", "session").Logger(),
		ops:     make(chan func()),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	c.timers = lifecycle.NewManager(o.clock, func(exp lifecycle.Expiry) {
		c.post(func() { c.onExpiry(exp) })
	})
	c.projector = state.NewProjector(state.Options{
		Clock:               o.clock,
		Scheduler:           c.timers,
		Limits:              o.limits,
		AdoptUnknownWorkers: o.adoptUnknown,
	})
	c.st = state.New(o.defaultLatency)
	st := c.st
	c.current.Store(&st)

	go c.run()
	return c
}

// State returns the latest published state.
func (c *Controller) State() state.State {
	return *c.current.Load()
}

// Connect dials addr and makes it the session transport. Any previous
// connection is closed, pending removals are cancelled and the state starts
// over from an unconfigured session.
func (c *Controller) Connect(ctx context.Context, addr string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	conn, err := c.dialer.Dial(ctx, addr)
	metrics.RecordConnect(err)
	if err != nil {
		c.log.Warn().Err(err).Str("addr", addr).Msg("connect failed")
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	err = c.call(func() error {
		c.attach(addr, conn)
		return nil
	})
	if err != nil {
		conn.Close()
	}
	return err
}

// Close tears down the transport and stops the loop. It is safe to call
// more than once.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.stopped
	return nil
}

// Send writes cmd to the harness.
func (c *Controller) Send(ctx context.Context, cmd protocol.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.call(func() error { return c.write(cmd) })
}

func (c *Controller) Begin(ctx context.Context) error {
	return c.Send(ctx, protocol.Begin())
}

func (c *Controller) CheckConvergence(ctx context.Context) error {
	return c.Send(ctx, protocol.CheckConvergence())
}

func (c *Controller) SetNetsplit(ctx context.Context, started bool) error {
	return c.Send(ctx, protocol.SetNetsplit(started))
}

// ToggleNetsplit asks for the opposite of the current partition state. The
// command on the wire is still an absolute set.
func (c *Controller) ToggleNetsplit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.call(func() error { return c.write(protocol.SetNetsplit(!c.st.Netsplit)) })
}

func (c *Controller) Restart(ctx context.Context, domain string) error {
	return c.Send(ctx, protocol.RestartServer(domain))
}

// post hands fn to the loop. It reports false once the loop is stopping.
func (c *Controller) post(fn func()) bool {
	select {
	case c.ops <- fn:
		return true
	case <-c.done:
		return false
	}
}

// call runs fn on the loop and returns its result.
func (c *Controller) call(fn func() error) error {
	errc := make(chan error, 1)
	if !c.post(func() { errc <- fn() }) {
		return ErrClosed
	}
	return <-errc
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.done:
			c.shutdown()
			return
		}
	}
}

func (c *Controller) shutdown() {
	c.detach()
	if n := c.timers.CancelAll(); n > 0 {
		c.log.Debug().Int("cancelled", n).Msg("pending removals cancelled on close")
	}
	c.gen++
	c.st = c.st.WithConnected(false)
	c.publish(nil)
}

// detach closes the current transport and any pending redial.
func (c *Controller) detach() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Controller) attach(addr string, conn Conn) {
	c.detach()
	c.gen++
	gen := c.gen
	c.conn = conn
	c.addr = addr
	c.sessionID = uuid.NewString()
	c.attempt = 0

	if n := c.timers.CancelAll(); n > 0 {
		c.log.Debug().Int("cancelled", n).Msg("pending removals cancelled on reset")
	}
	c.st = state.New(c.opts.defaultLatency).WithConnected(true)
	metrics.SetInFlight(0)
	c.log.Info().Str("addr", addr).Str("session_id", c.sessionID).Msg("connected")
	c.publish(nil)

	go c.read(gen, conn)
}

func (c *Controller) read(gen uint64, conn Conn) {
	for {
		data, err := conn.Read()
		if err != nil {
			c.post(func() { c.onReadError(gen, err) })
			return
		}
		if !c.post(func() { c.onMessage(gen, data) }) {
			return
		}
	}
}

func (c *Controller) onMessage(gen uint64, data []byte) {
	if gen != c.gen {
		metrics.RecordDropped("stale")
		return
	}
	ev, err := protocol.Decode(data)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		metrics.RecordDropped("unknown_type")
		c.log.Debug().Err(err).Msg("ignoring message")
		return
	case err != nil:
		metrics.RecordDropped("malformed")
		c.log.Warn().Err(err).Int("size", len(data)).Str("session_id", c.sessionID).Msg("dropping message")
		return
	}

	next, warn := c.projector.Apply(c.st, ev)
	if warn != nil {
		metrics.RecordWarning(warningKind(warn))
		c.log.Warn().Err(warn).Str("event", ev.Kind().String()).Str("session_id", c.sessionID).Msg("consistency warning")
	}
	c.st = next
	metrics.RecordApplied(ev.Kind().String(), len(next.InFlight))
	c.publish(ev)
}

func warningKind(err error) string {
	switch {
	case errors.Is(err, state.ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, state.ErrDegradedConfig):
		return "degraded_config"
	}
	return "other"
}

func (c *Controller) onExpiry(exp lifecycle.Expiry) {
	if !c.timers.Fire(exp) {
		return
	}
	c.st = c.projector.Expire(c.st, exp.Key)
	metrics.RecordExpiry(len(c.st.InFlight))
	c.publish(nil)
}

func (c *Controller) onReadError(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	c.log.Warn().Err(err).Str("addr", c.addr).Str("session_id", c.sessionID).Msg("connection lost")
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.st = c.st.WithConnected(false)
	c.publish(nil)
	if c.opts.reconnect {
		c.scheduleRedial()
	}
}

func (c *Controller) scheduleRedial() {
	c.attempt++
	if limit := c.opts.backoff.MaxAttempts; limit > 0 && c.attempt > limit {
		c.log.Warn().Int("attempts", limit).Str("addr", c.addr).Msg("giving up reconnecting")
		return
	}
	delay := NextBackoffDelay(c.opts.backoff, c.attempt, c.opts.rng)
	gen, addr := c.gen, c.addr
	c.log.Info().Dur("delay", delay).Int("attempt", c.attempt).Str("addr", addr).Msg("reconnecting")
	c.retry = c.opts.clock.AfterFunc(delay, func() { c.redial(gen, addr) })
}

// redial runs off the loop; gen guards against a Connect or Close that
// happened while it was dialing.
func (c *Controller) redial(gen uint64, addr string) {
	conn, err := c.dialer.Dial(context.Background(), addr)
	metrics.RecordConnect(err)
	posted := c.post(func() {
		if gen != c.gen || c.conn != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		c.retry = nil
		if err != nil {
			c.log.Warn().Err(err).Str("addr", addr).Msg("reconnect failed")
			c.scheduleRedial()
			return
		}
		attempt := c.attempt
		c.attach(addr, conn)
		c.log.Info().Int("attempt", attempt).Msg("reconnected")
	})
	if !posted && conn != nil {
		conn.Close()
	}
}

func (c *Controller) write(cmd protocol.Command) error {
	if c.conn == nil {
		metrics.RecordCommand(cmd.Name(), ErrNotConnected)
		return ErrNotConnected
	}
	data, err := cmd.Encode()
	if err == nil {
		err = c.conn.Write(data)
	}
	metrics.RecordCommand(cmd.Name(), err)
	if err != nil {
		return fmt.Errorf("send %s: %w", cmd.Name(), err)
	}
	c.log.Debug().Str("command", cmd.Name()).Msg("command sent")
	return nil
}

func (c *Controller) publish(ev protocol.Event) {
	st := c.st
	c.current.Store(&st)
	u := Update{State: st, Event: ev, SessionID: c.sessionID, Addr: c.addr}
	for _, fn := range c.opts.observers {
		fn(u)
	}
}
