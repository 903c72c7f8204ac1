package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestNewWatcherLoadsOnce(t *testing.T) {
	path := writeConfig(t, `
engine:
  recursion_limit: 5
`)
	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := w.Current().Engine.RecursionLimit; got != 5 {
		t.Errorf("got recursion_limit %d, want 5", got)
	}
}

func TestNewWatcherPropagatesLoadError(t *testing.T) {
	path := writeConfig(t, `
memory:
  backend: postgres
`)
	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected NewWatcher to surface the initial Load error")
	}
}

func TestWatcher_StartWatchingReloadsOnFileChange(t *testing.T) {
	path := writeConfig(t, `
engine:
  recursion_limit: 5
`)
	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.StartWatching(ctx); err != nil {
		t.Fatalf("StartWatching: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("engine:\n  recursion_limit: 9\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if w.Current().Engine.RecursionLimit == 9 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("got recursion_limit %d after reload window, want 9", w.Current().Engine.RecursionLimit)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcher_BadReloadKeepsPreviousConfig(t *testing.T) {
	path := writeConfig(t, `
engine:
  recursion_limit: 5
`)
	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.StartWatching(ctx); err != nil {
		t.Fatalf("StartWatching: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("engine:\n  not_a_real_field: true\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := w.Current().Engine.RecursionLimit; got != 5 {
		t.Errorf("got recursion_limit %d after bad reload, want unchanged 5", got)
	}
}

func TestWatcher_CloseStopsWatchLoop(t *testing.T) {
	path := writeConfig(t, `
engine:
  recursion_limit: 5
`)
	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.StartWatching(context.Background()); err != nil {
		t.Fatalf("StartWatching: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// A second Close must be a safe no-op.
	if err := w.Close(); err != nil {
		t.Errorf("second Close returned %v, want nil", err)
	}
}
