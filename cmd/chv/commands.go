package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/element-hq/chaosview/internal/config"
	"github.com/element-hq/chaosview/internal/datasource"
	"github.com/element-hq/chaosview/internal/harness"
	"github.com/element-hq/chaosview/internal/protocol"
	"github.com/element-hq/chaosview/internal/session"
	"github.com/element-hq/chaosview/internal/snapshot"
	"github.com/element-hq/chaosview/internal/state"
)

var errConnectionLost = errors.New("connection to harness lost")

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "chv %s\n", Version)
			return err
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			if cfg.Path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# from %s\n", cfg.Path)
			}
			return config.WriteTOML(cmd.OutOrStdout(), cfg)
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <harness.yaml>",
		Short: "Report how the console would render a harness config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			hc, err := harness.OpenFile(args[0])
			if err != nil {
				return err
			}
			findings := harness.Check(hc, state.Limits{Homeservers: cfg.Session.Homeservers, Users: cfg.Session.Users})
			out := cmd.OutOrStdout()
			if len(findings) == 0 {
				fmt.Fprintf(out, "ok: %s is fully supported\n", args[0])
				return nil
			}
			for _, f := range findings {
				fmt.Fprintln(out, f)
			}
			if harness.HasErrors(findings) {
				return fmt.Errorf("%s: %d finding(s)", args[0], len(findings))
			}
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var view string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Interactive console (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			start := viewDashboard
			if view != "" {
				if start, err = parseViewFlag(view); err != nil {
					return err
				}
			}
			return runWatch(contextOf(cmd), a, cfg, start)
		},
	}
	cmd.Flags().StringVar(&view, "view", "", "start in a view (dashboard|federation|workers|events|topology)")
	return cmd
}

func runWatch(ctx context.Context, a *app, cfg config.Config, start viewID) error {
	log, closer, err := logger(cfg, true, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(ctx)
	updates := make(chan session.Update, 256)
	ctrl := newController(cfg, log, session.WithObserver(func(u session.Update) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	}))
	defer ctrl.Close()
	defer cancel()
	serveMetrics(ctx, cfg, log)

	var watcher *datasource.Watcher
	if cfg.Path != "" {
		if watcher, err = datasource.NewWatcher(cfg.Path, datasource.WithWatchLogger(log)); err != nil {
			log.Warn().Err(err).Str("path", cfg.Path).Msg("config changes will not be picked up")
			watcher = nil
		} else {
			defer watcher.Close()
		}
	}

	m := newModel(ctrl, cfg, time.Now)
	m.activeView = start
	m.reload = a.load
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	// Feed session updates into the TUI.
	go func() {
		for {
			select {
			case u := <-updates:
				p.Send(updateMsg(u))
			case <-ctx.Done():
				return
			}
		}
	}()
	if watcher != nil {
		go func() {
			for {
				select {
				case <-watcher.Changes():
					p.Send(configChangedMsg{})
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newFollowCmd(a *app) *cobra.Command {
	var (
		verbose     bool
		autoBegin   bool
		harnessPath string
		duration    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Print the event stream without a TUI",
		Long:  "follow prints one line per harness event. With --harness it also runs the netsplit, restart and convergence loops described by the harness config.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			var plan harness.Plan
			if harnessPath != "" {
				hc, err := harness.OpenFile(harnessPath)
				if err != nil {
					return err
				}
				plan = harness.PlanFrom(hc.Test)
			}
			ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return runFollow(ctx, cmd, cfg, followOptions{verbose: verbose, autoBegin: autoBegin, plan: plan})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also print worker actions")
	cmd.Flags().BoolVar(&autoBegin, "auto-begin", false, "send Begin once the harness config arrives")
	cmd.Flags().StringVar(&harnessPath, "harness", "", "harness YAML whose test section drives chaos loops")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

type followOptions struct {
	verbose   bool
	autoBegin bool
	plan      harness.Plan
}

func runFollow(ctx context.Context, cmd *cobra.Command, cfg config.Config, opts followOptions) error {
	log, closer, err := logger(cfg, false, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(ctx)
	updates := make(chan session.Update, 256)
	ctrl := newController(cfg, log, session.WithObserver(func(u session.Update) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	}))
	defer ctrl.Close()
	defer cancel()
	serveMetrics(ctx, cfg, log)

	log.Info().Str("addr", cfg.Server.URL).Msg("dialling")
	if err := ctrl.Connect(ctx, cfg.Server.URL); err != nil {
		return err
	}

	if !opts.plan.Empty() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			opts.plan.Run(ctx, ctrl, log)
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	out := cmd.OutOrStdout()
	begun := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			if u.Event == nil {
				if !u.State.Connected && !cfg.Reconnect.Enabled {
					return errConnectionLost
				}
				continue
			}
			if u.Event.Kind() != protocol.KindWorkerAction || opts.verbose {
				fmt.Fprintf(out, "> %s\n", protocol.Describe(u.Event))
			}
			if opts.autoBegin && !begun && u.Event.Kind() == protocol.KindConfig {
				begun = true
				go func() {
					if err := ctrl.Begin(ctx); err != nil {
						log.Warn().Err(err).Msg("begin failed")
					}
				}()
			}
		}
	}
}

func newDumpCmd(a *app) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Connect, wait for the harness config and print a JSON snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(contextOf(cmd), wait)
			defer cancel()
			return runDump(ctx, cmd, cfg)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for the config event")
	return cmd
}

func runDump(ctx context.Context, cmd *cobra.Command, cfg config.Config) error {
	log, closer, err := logger(cfg, false, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	configured := make(chan struct{})
	var once bool
	ctrl := newController(cfg, log, session.WithObserver(func(u session.Update) {
		if u.State.Configured && !once {
			once = true
			close(configured)
		}
	}))
	defer ctrl.Close()

	if err := ctrl.Connect(ctx, cfg.Server.URL); err != nil {
		return err
	}
	select {
	case <-configured:
	case <-ctx.Done():
		return fmt.Errorf("no config from %s: %w", cfg.Server.URL, ctx.Err())
	}

	snap := snapshot.Build(ctrl.State(), time.Now())
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(buildJSONOutput(snap))
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
