package checkpoint

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/forgeflow/conductor/internal/observability"
)

// GC periodically removes session checkpoint directories whose newest
// checkpoint is older than Retention, recording results via metrics.
// Grounded on the teacher's internal/cron schedule wiring (robfig/cron/v3
// with an "@every" spec, since the config knob is a plain time.Duration
// rather than a cron expression).
type GC struct {
	store     *Store
	retention time.Duration
	log       *slog.Logger
	metrics   *observability.Metrics

	cron *cron.Cron
}

// NewGC builds a GC. retention must be positive or every sweep is a no-op.
func NewGC(store *Store, retention time.Duration, log *slog.Logger, metrics *observability.Metrics) *GC {
	if log == nil {
		log = slog.Default()
	}
	return &GC{
		store:     store,
		retention: retention,
		log:       log.With("component", "checkpoint-gc"),
		metrics:   metrics,
	}
}

// Start schedules periodic sweeps at interval and runs one immediately.
// It is idempotent; calling Start twice replaces the running schedule.
func (g *GC) Start(interval time.Duration) error {
	if g.cron != nil {
		g.cron.Stop()
	}
	if interval <= 0 {
		return fmt.Errorf("checkpoint: gc interval must be positive")
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), g.sweep); err != nil {
		return fmt.Errorf("checkpoint: schedule gc: %w", err)
	}
	c.Start()
	g.cron = c

	go g.sweep()
	return nil
}

// Stop halts the scheduled sweeps. Safe to call on a GC that was never started.
func (g *GC) Stop() {
	if g.cron != nil {
		g.cron.Stop()
		g.cron = nil
	}
}

// Sweep runs one gc pass synchronously, outside the cron schedule. Used by
// the "checkpoint gc" CLI command to trigger a sweep on demand.
func (g *GC) Sweep() {
	g.sweep()
}

// sweep removes every session directory whose newest checkpoint predates
// the retention window, recording the outcome via metrics.
func (g *GC) sweep() {
	if g.retention <= 0 {
		return
	}
	sessions, err := g.store.Sessions()
	if err != nil {
		g.log.Error("list sessions for gc", "error", err)
		if g.metrics != nil {
			g.metrics.RecordCheckpointGC("error", 0)
		}
		return
	}

	cutoff := time.Now().Add(-g.retention)
	removed := 0
	for _, sessionID := range sessions {
		newest, err := g.newestModTime(sessionID)
		if err != nil {
			g.log.Warn("stat session checkpoints", "session_id", sessionID, "error", err)
			continue
		}
		if newest.IsZero() || newest.After(cutoff) {
			continue
		}
		if err := os.RemoveAll(g.store.sessionDir(sessionID)); err != nil {
			g.log.Error("remove expired checkpoints", "session_id", sessionID, "error", err)
			continue
		}
		removed++
		g.log.Info("removed expired checkpoints", "session_id", sessionID, "newest", newest)
	}

	if g.metrics != nil {
		g.metrics.RecordCheckpointGC("ok", removed)
	}
}

func (g *GC) newestModTime(sessionID string) (time.Time, error) {
	entries, err := os.ReadDir(g.store.sessionDir(sessionID))
	if err != nil {
		return time.Time{}, err
	}

	var newest time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return time.Time{}, err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, nil
}
