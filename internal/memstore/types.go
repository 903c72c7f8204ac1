// Package memstore implements the persistent memory backends spec §6.2
// gestures at (workspace_path/.engine/memory.db): a relational store of
// research findings and generated-file history, keyed by workspace, that
// outlives any single workflow run. Nodes never see a concrete backend —
// only the Store interface, passed in as one of the graph's ambient
// services (spec §4.5's side-channel, never part of WorkflowState).
package memstore

import (
	"context"
	"errors"
	"time"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("memstore: not found")

// RunSummary is one past workflow run's outcome, recorded so a later run
// against the same workspace can be told "you already built X".
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Summary   string    `json:"summary"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistent memory backend the workflow graph closes over.
// Grounded on the teacher's internal/sessions.Store shape (CRUD +
// bounded history query), narrowed from session/message persistence to
// this engine's own durable records: research findings, generated
// files, and run summaries, all scoped by workspace.
type Store interface {
	SaveResearchFinding(ctx context.Context, workspaceID string, finding wfstate.ResearchFinding) error
	RecentResearchFindings(ctx context.Context, workspaceID string, limit int) ([]wfstate.ResearchFinding, error)

	SaveGeneratedFile(ctx context.Context, workspaceID string, file wfstate.GeneratedFile) error
	RecentGeneratedFiles(ctx context.Context, workspaceID string, limit int) ([]wfstate.GeneratedFile, error)

	SaveRunSummary(ctx context.Context, workspaceID string, summary RunSummary) error
	RecentRunSummaries(ctx context.Context, workspaceID string, limit int) ([]RunSummary, error)

	// Remember and Recall implement workflow.MemoryStore: a flat,
	// session-scoped key/value slot nodes can use for ad hoc state that
	// doesn't fit the three structured record types above.
	Remember(ctx context.Context, sessionID, key string, value []byte) error
	Recall(ctx context.Context, sessionID, key string) ([]byte, bool, error)

	Close() error
}
