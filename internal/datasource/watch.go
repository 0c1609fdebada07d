package datasource

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the config file must stay quiet before a
// reload is signaled.
const DefaultDebounce = 100 * time.Millisecond

// WatchOption configures a Watcher.
type WatchOption func(*watchOptions)

type watchOptions struct {
	debounce time.Duration
	clock    clockwork.Clock
	log      zerolog.Logger
}

// WithDebounce sets the quiet period that coalesces editor write bursts.
func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) { o.debounce = d }
}

// WithWatchClock drives the debounce timer from c.
func WithWatchClock(c clockwork.Clock) WatchOption {
	return func(o *watchOptions) { o.clock = c }
}

// WithWatchLogger reports fsnotify errors to l.
func WithWatchLogger(l zerolog.Logger) WatchOption {
	return func(o *watchOptions) { o.log = l }
}

// Watcher signals when the console config file changes on disk.
type Watcher struct {
	fs      *fsnotify.Watcher
	path    string
	name    string
	opts    watchOptions
	changes chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewWatcher watches the config file at path. The parent directory is
// watched so that editors replacing the file by rename are still seen.
func NewWatcher(path string, opts ...WatchOption) (*Watcher, error) {
	o := watchOptions{debounce: DefaultDebounce, clock: clockwork.NewRealClock(), log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return nil, err
	}

	w := &Watcher{
		fs:      fs,
		path:    path,
		name:    filepath.Base(path),
		opts:    o,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Changes delivers at most one pending signal; a reader that falls behind
// sees a single signal for any number of edits.
func (w *Watcher) Changes() <-chan struct{} { return w.changes }

func (w *Watcher) Path() string { return w.path }

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}

// touchesConfig reports whether ev may have changed the config contents.
func (w *Watcher) touchesConfig(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != w.name {
		return false
	}
	return ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename)
}

func (w *Watcher) loop() {
	var (
		quiet clockwork.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if quiet != nil {
			quiet.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.touchesConfig(ev) {
				continue
			}
			if quiet == nil {
				quiet = w.opts.clock.NewTimer(w.opts.debounce)
			} else {
				if !quiet.Stop() {
					select {
					case <-quiet.Chan():
					default:
					}
				}
				quiet.Reset(w.opts.debounce)
			}
			fire = quiet.Chan()
		case <-fire:
			fire = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.opts.log.Warn().Err(err).Str("path", w.path).Msg("config watch error")
		}
	}
}
