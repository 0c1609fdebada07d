package session

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/element-hq/chaosview/internal/lifecycle"
	"github.com/element-hq/chaosview/internal/state"
)

// Option configures a Controller.
type Option func(*options)

type options struct {
	clock          lifecycle.Clock
	log            zerolog.Logger
	observers      []Observer
	defaultLatency time.Duration
	limits         state.Limits
	adoptUnknown   bool
	reconnect      bool
	backoff        BackoffConfig
	rng            *rand.Rand
}

func defaultOptions() options {
	return options{
		clock:          lifecycle.SystemClock(),
		log:            zerolog.Nop(),
		defaultLatency: state.DefaultFederationLatency,
		limits:         state.DefaultLimits,
		backoff:        DefaultBackoff(),
	}
}

// WithClock sets the clock used for request admission, removal timers and
// redial delays.
func WithClock(c lifecycle.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithObserver registers fn for every published update. Observers are fixed
// for the Controller's lifetime.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observers = append(o.observers, fn) }
}

// WithDefaultLatency sets the federation latency used until a config event
// supplies one.
func WithDefaultLatency(d time.Duration) Option {
	return func(o *options) { o.defaultLatency = d }
}

func WithLimits(l state.Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithAdoptUnknownWorkers creates worker records for actions from users the
// config did not list.
func WithAdoptUnknownWorkers(adopt bool) Option {
	return func(o *options) { o.adoptUnknown = adopt }
}

// WithReconnect enables redialing the last address after a transport
// failure, spaced by cfg.
func WithReconnect(cfg BackoffConfig) Option {
	return func(o *options) {
		o.reconnect = true
		o.backoff = cfg
	}
}

// WithRand seeds backoff jitter.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}
