package config

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds a hot-reloadable Config: Load watches the source file and
// atomically swaps in a freshly parsed Config on every write, without
// disturbing callers mid-read. Grounded on the teacher's
// internal/skills/manager.go StartWatching/watchLoop (fsnotify watcher,
// debounced reload, graceful Close), generalized from skill discovery to
// config reload.
type Watcher struct {
	path     string
	logger   *slog.Logger
	current  atomic.Pointer[Config]
	debounce time.Duration

	// OnReload, if set, is invoked with the freshly validated Config after
	// every successful reload. Callers use it to propagate the handful of
	// fields that can safely change underneath a running process (e.g.
	// logging.level); fields baked into already-constructed components
	// (recursion_limit, llm_provider accounts, tool_server_manifest) still
	// require a restart to take effect.
	OnReload func(*Config)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher loads path once and returns a Watcher primed with that
// Config. Callers must call StartWatching to enable hot reload; an
// unwatched Watcher behaves like a one-shot Load.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{path: path, logger: logger, debounce: 250 * time.Millisecond}
	w.current.Store(cfg)
	return w, nil
}

// Current returns the most recently loaded Config. Safe for concurrent use
// with a reload in progress; in-flight workflows that captured a Config
// snapshot earlier are unaffected by a later reload.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// StartWatching begins watching the config file for writes, reloading and
// swapping Current() on each change. A reload that fails validation or
// parsing is logged and discarded; the previous Config stays live.
func (w *Watcher) StartWatching(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fsw.Add(w.path); err != nil {
		fsw.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.watchLoop(watchCtx)
	return nil
}

// Close stops the watcher goroutine and releases the fsnotify handle.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fsw := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()
	w.mu.Lock()
	fsw := w.watcher
	w.mu.Unlock()
	if fsw == nil {
		return
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, w.reload)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				scheduleReload()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "path", w.path, "err", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous configuration", "path", w.path, "err", err)
		return
	}
	w.current.Store(cfg)
	w.logger.Info("configuration reloaded", "path", w.path)
	if w.OnReload != nil {
		w.OnReload(cfg)
	}
}
