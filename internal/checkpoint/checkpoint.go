// Package checkpoint persists workflow transitions to disk and garbage
// collects old ones, implementing internal/workflow.Checkpointer (spec
// §6.5's optional checkpoint persistence).
//
// Grounded on the teacher's internal/sessions branch/message persistence
// idiom (JSON-serialized domain records written under a directory keyed
// by identity, read back by listing and sorting), adapted from a SQL
// table to flat files since spec §6.5 names only a directory, not a
// database, as the checkpoint sink.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

// Record is one checkpointed transition, the on-disk shape written by
// Store.Save and read back by Store.Load / Store.List.
type Record struct {
	SessionID string                 `json:"session_id"`
	Iteration int                    `json:"iteration"`
	State     *wfstate.WorkflowState `json:"state"`
	Command   *workflow.Command      `json:"command"`
}

// Store writes one JSON file per (session, iteration) under Directory and
// implements workflow.Checkpointer. It is safe for concurrent use: each
// session's checkpoints are independent files, and graph.go only ever
// calls Save from the single goroutine driving that session's run.
type Store struct {
	Directory string
}

// New returns a Store rooted at directory, creating it if absent.
func New(directory string) (*Store, error) {
	if directory == "" {
		return nil, fmt.Errorf("checkpoint: directory is required")
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: mkdir: %w", err)
	}
	return &Store{Directory: directory}, nil
}

// Save writes one checkpoint file, implementing workflow.Checkpointer.
func (s *Store) Save(ctx context.Context, sessionID string, iteration int, state *wfstate.WorkflowState, cmd *workflow.Command) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	record := Record{SessionID: sessionID, Iteration: iteration, State: state, Command: cmd}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: mkdir session dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%08d.json", iteration))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Latest returns the highest-iteration checkpoint for a session, or
// (nil, nil) if the session has none.
func (s *Store) Latest(sessionID string) (*Record, error) {
	entries, err := os.ReadDir(s.sessionDir(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read session dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	data, err := os.ReadFile(filepath.Join(s.sessionDir(sessionID), names[len(names)-1]))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read latest: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal: %w", err)
	}
	return &record, nil
}

// Sessions lists every session directory with at least one checkpoint.
func (s *Store) Sessions() ([]string, error) {
	entries, err := os.ReadDir(s.Directory)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read directory: %w", err)
	}

	var sessions []string
	for _, e := range entries {
		if e.IsDir() {
			sessions = append(sessions, e.Name())
		}
	}
	return sessions, nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.Directory, sessionID)
}

var _ workflow.Checkpointer = (*Store)(nil)
