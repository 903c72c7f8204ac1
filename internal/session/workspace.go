package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// validateWorkspace checks that path exists, is a directory, and is
// writable — the bind-time check spec §4.7 step 2 requires before a
// session is allowed to own a workspace.
func validateWorkspace(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("session: resolve workspace path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", wfstate.ErrWorkspaceUnavailable, abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", wfstate.ErrWorkspaceUnavailable, abs)
	}
	probe := filepath.Join(abs, ".conductor-write-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not writable: %v", wfstate.ErrWorkspaceUnavailable, abs, err)
	}
	f.Close()
	os.Remove(probe)
	return abs, nil
}

// workspaceBinder tracks which session currently owns which workspace.
// Spec §5 "Shared-resource policy": a workspace is exclusively owned by one
// session's graph run at a time; a second bind attempt must be rejected.
// Grounded on the teacher's sessions.Locker family (internal/sessions/
// locker.go) — simplified to a single-process in-memory map since the
// engine, unlike nexus's multi-replica gateway, runs one workflow process
// per workspace and has no need for a DB-backed lease.
type workspaceBinder struct {
	mu    sync.Mutex
	bound map[string]string // workspace path -> session id
}

func newWorkspaceBinder() *workspaceBinder {
	return &workspaceBinder{bound: make(map[string]string)}
}

func (b *workspaceBinder) bind(workspace, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if owner, ok := b.bound[workspace]; ok && owner != sessionID {
		return fmt.Errorf("%w: %s is bound to session %s", wfstate.ErrWorkspaceBound, workspace, owner)
	}
	b.bound[workspace] = sessionID
	return nil
}

func (b *workspaceBinder) release(workspace string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bound, workspace)
}
