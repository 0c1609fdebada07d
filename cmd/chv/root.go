package main

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/element-hq/chaosview/internal/config"
	"github.com/element-hq/chaosview/internal/datasource"
	"github.com/element-hq/chaosview/internal/logging"
	"github.com/element-hq/chaosview/internal/metrics"
	"github.com/element-hq/chaosview/internal/session"
	"github.com/element-hq/chaosview/internal/state"
)

// dialerFor builds the transport for cfg. Tests replace it.
var dialerFor = func(cfg config.Config) session.Dialer {
	return session.WebsocketDialer{
		DialTimeout:  cfg.Server.DialTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// app carries what every subcommand resolves from flags, env and file.
type app struct {
	v          *viper.Viper
	configPath string
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "chv",
		Short:         "Console for the federation chaos harness",
		Long:          "chv connects to a running chaos harness, shows its live state and sends it commands (begin, convergence checks, netsplits, restarts).",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default: discover chaosview.toml)")
	flags.String("url", "", "harness websocket address")
	flags.String("log-level", "", "log level (trace|debug|info|warn|error|off)")
	flags.String("log-file", "", "log file")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.Bool("reconnect", false, "redial with backoff after the connection drops")
	flags.Duration("latency", 0, "federation latency until the harness reports one")
	_ = a.v.BindPFlag(config.KeyServerURL, flags.Lookup("url"))
	_ = a.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = a.v.BindPFlag(config.KeyLogFile, flags.Lookup("log-file"))
	_ = a.v.BindPFlag(config.KeyMetricsAddr, flags.Lookup("metrics-addr"))
	_ = a.v.BindPFlag(config.KeyReconnectEnabled, flags.Lookup("reconnect"))
	_ = a.v.BindPFlag(config.KeyDefaultLatency, flags.Lookup("latency"))

	watchCmd := newWatchCmd(a)
	rootCmd.RunE = watchCmd.RunE
	rootCmd.Flags().AddFlagSet(watchCmd.Flags())

	rootCmd.AddCommand(
		watchCmd,
		newFollowCmd(a),
		newDumpCmd(a),
		newCheckCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// load resolves the effective config. A missing config file is not an
// error; defaults apply.
func (a *app) load() (config.Config, error) {
	path := a.configPath
	if path == "" {
		found, err := datasource.Discover()
		switch {
		case err == nil:
			path = found
		case !errors.Is(err, datasource.ErrNoConfig):
			return config.Config{}, err
		}
	}
	return config.Load(a.v, path)
}

// logger builds the zerolog logger. toFile is set by the TUI, which owns
// the terminal.
func logger(cfg config.Config, toFile bool, stderr io.Writer) (zerolog.Logger, io.Closer, error) {
	lc := logging.Config{Level: cfg.Log.Level}
	if toFile {
		lc.File = cfg.Log.File
	}
	return logging.New("chv", logging.ProfileRuntime, lc, stderr)
}

// newController wires a Session Controller from cfg.
func newController(cfg config.Config, log zerolog.Logger, opts ...session.Option) *session.Controller {
	base := []session.Option{
		session.WithLogger(log),
		session.WithDefaultLatency(cfg.Session.DefaultLatency),
		session.WithLimits(state.Limits{Homeservers: cfg.Session.Homeservers, Users: cfg.Session.Users}),
		session.WithAdoptUnknownWorkers(cfg.Session.AdoptUnknownWorkers),
	}
	if cfg.Reconnect.Enabled {
		base = append(base, session.WithReconnect(session.BackoffConfig{
			InitialDelay: cfg.Reconnect.InitialDelay,
			Multiplier:   cfg.Reconnect.Multiplier,
			MaxDelay:     cfg.Reconnect.MaxDelay,
			Jitter:       cfg.Reconnect.Jitter,
			MaxAttempts:  cfg.Reconnect.MaxAttempts,
		}))
	}
	return session.New(dialerFor(cfg), append(base, opts...)...)
}

// serveMetrics starts the /metrics endpoint when configured.
func serveMetrics(ctx context.Context, cfg config.Config, log zerolog.Logger) {
	if cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
			log.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
}
