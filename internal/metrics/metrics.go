// Package metrics exposes Prometheus instrumentation for the console engine.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	eventsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chaosview",
			Subsystem: "events",
			Name:      "applied_total",
			Help:      "Inbound events applied to the session state.",
		},
		[]string{"type"},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chaosview",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Inbound messages dropped before reaching the state.",
		},
		[]string{"reason"},
	)
	warnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chaosview",
			Subsystem: "events",
			Name:      "warnings_total",
			Help:      "Consistency warnings raised while applying events.",
		},
		[]string{"kind"},
	)
	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chaosview",
			Subsystem: "federation",
			Name:      "in_flight_requests",
			Help:      "Federation requests currently in flight.",
		},
	)
	expirations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chaosview",
			Subsystem: "federation",
			Name:      "expirations_total",
			Help:      "In-flight federation requests retired after their latency window.",
		},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chaosview",
			Subsystem: "commands",
			Name:      "sent_total",
			Help:      "Commands sent to the harness.",
		},
		[]string{"command", "success"},
	)
	connects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chaosview",
			Subsystem: "transport",
			Name:      "connects_total",
			Help:      "Connection attempts to the harness.",
		},
		[]string{"success"},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(eventsApplied, eventsDropped, warnings, inFlight, expirations, commands, connects)
	})
}

func RecordApplied(eventType string, inFlightNow int) {
	Register()
	eventsApplied.WithLabelValues(eventType).Inc()
	inFlight.Set(float64(inFlightNow))
}

func RecordDropped(reason string) {
	Register()
	eventsDropped.WithLabelValues(reason).Inc()
}

func RecordWarning(kind string) {
	Register()
	warnings.WithLabelValues(kind).Inc()
}

func RecordExpiry(inFlightNow int) {
	Register()
	expirations.Inc()
	inFlight.Set(float64(inFlightNow))
}

// SetInFlight resets the gauge, e.g. when a new session starts.
func SetInFlight(n int) {
	Register()
	inFlight.Set(float64(n))
}

func RecordCommand(name string, err error) {
	Register()
	commands.WithLabelValues(name, successLabel(err)).Inc()
}

func RecordConnect(err error) {
	Register()
	connects.WithLabelValues(successLabel(err)).Inc()
}

func successLabel(err error) string {
	if err != nil {
		return "false"
	}
	return "true"
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
