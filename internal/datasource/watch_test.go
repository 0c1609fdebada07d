package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestNewWatcherSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chaosview.toml")
	writeConfig(t, path, "")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if w.Changes() == nil {
		t.Error("Changes() returned nil channel")
	}
	if w.Path() != path {
		t.Errorf("Path() = %q, want %q", w.Path(), path)
	}
}

func TestNewWatcherBadPath(t *testing.T) {
	_, err := NewWatcher("/nonexistent/dir/chaosview.toml")
	if err == nil {
		t.Error("NewWatcher should fail for nonexistent directory")
	}
}

func TestWatcherDetectsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chaosview.toml")
	writeConfig(t, path, `[server]`)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	// Give fsnotify time to start watching.
	time.Sleep(50 * time.Millisecond)

	writeConfig(t, path, "[server]\nurl = \"ws://other:7405\"\n")

	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Error("timed out waiting for change signal on config write")
	}
}

func TestWatcherDetectsAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chaosview.toml")
	writeConfig(t, path, `[server]`)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	time.Sleep(50 * time.Millisecond)

	tmp := filepath.Join(dir, ".chaosview.toml.swp")
	writeConfig(t, tmp, "[ui]\nrefresh = \"1s\"\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Error("timed out waiting for change signal on rename")
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chaosview.toml")
	writeConfig(t, path, "")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	time.Sleep(50 * time.Millisecond)

	writeConfig(t, filepath.Join(dir, "other.txt"), "noise")

	select {
	case <-w.Changes():
		t.Error("unexpected change signal from unrelated file write")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherCoalescesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chaosview.toml")
	writeConfig(t, path, "")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		writeConfig(t, path, "# edit\n")
	}

	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change signal")
	}
	select {
	case <-w.Changes():
		t.Error("burst of writes should produce one signal")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherWaitsForQuietPeriod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chaosview.toml")
	writeConfig(t, path, "")

	clock := clockwork.NewFakeClock()
	w, err := NewWatcher(path, WithWatchClock(clock), WithDebounce(time.Second))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "[log]\nlevel = \"debug\"\n")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("debounce timer never armed: %v", err)
	}
	select {
	case <-w.Changes():
		t.Fatal("signaled before the quiet period elapsed")
	case <-time.After(100 * time.Millisecond):
	}

	clock.Advance(time.Second)
	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Error("timed out waiting for change signal after the quiet period")
	}
}

func TestWatcherClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chaosview.toml")
	writeConfig(t, path, "")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
