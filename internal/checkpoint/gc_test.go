package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/forgeflow/conductor/internal/observability"
	"github.com/forgeflow/conductor/internal/wfstate"
)

func ageSessionCheckpoints(t *testing.T, store *Store, sessionID string, age time.Duration) {
	t.Helper()
	entries, err := os.ReadDir(store.sessionDir(sessionID))
	if err != nil {
		t.Fatalf("ReadDir(%s) error = %v", sessionID, err)
	}
	then := time.Now().Add(-age)
	for _, e := range entries {
		path := filepath.Join(store.sessionDir(sessionID), e.Name())
		if err := os.Chtimes(path, then, then); err != nil {
			t.Fatalf("Chtimes(%s) error = %v", path, err)
		}
	}
}

func TestSweepRemovesSessionsOlderThanRetention(t *testing.T) {
	store := newTestStore(t)
	state := wfstate.New("s", "/workspace", "q")

	if err := store.Save(context.Background(), "stale", 1, state, nil); err != nil {
		t.Fatalf("Save(stale) error = %v", err)
	}
	if err := store.Save(context.Background(), "fresh", 1, state, nil); err != nil {
		t.Fatalf("Save(fresh) error = %v", err)
	}
	ageSessionCheckpoints(t, store, "stale", 48*time.Hour)

	gc := NewGC(store, 24*time.Hour, nil, observability.NewMetrics(prometheus.NewRegistry()))
	gc.sweep()

	sessions, err := store.Sessions()
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 1 || sessions[0] != "fresh" {
		t.Errorf("got %v, want only [fresh] to survive", sessions)
	}
}

func TestSweepIsNoopWithinRetentionWindow(t *testing.T) {
	store := newTestStore(t)
	state := wfstate.New("s", "/workspace", "q")
	if err := store.Save(context.Background(), "session-1", 1, state, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	gc := NewGC(store, 24*time.Hour, nil, observability.NewMetrics(prometheus.NewRegistry()))
	gc.sweep()

	sessions, err := store.Sessions()
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("got %v, want session-1 to survive", sessions)
	}
}

func TestStartRejectsNonPositiveInterval(t *testing.T) {
	store := newTestStore(t)
	gc := NewGC(store, time.Hour, nil, nil)
	if err := gc.Start(0); err == nil {
		t.Fatal("expected an error for a zero interval")
	}
}

func TestStartSchedulesAndStopCancels(t *testing.T) {
	store := newTestStore(t)
	gc := NewGC(store, time.Hour, nil, nil)
	if err := gc.Start(time.Minute); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if gc.cron == nil {
		t.Fatal("expected a running cron schedule")
	}
	gc.Stop()
	if gc.cron != nil {
		t.Error("expected Stop() to clear the cron schedule")
	}
}
