package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// SQLiteStore implements Store against workspace_path/.engine/memory.db
// via modernc.org/sqlite (no cgo), the embeddable backend spec §6.2
// names as the workspace-local default. Schema and query shapes mirror
// PostgresStore; only placeholder syntax and timestamp encoding differ
// (SQLite has no native timestamptz, so timestamps are stored as
// RFC 3339 text and parsed back on read).
type SQLiteStore struct {
	db *sql.DB

	stmtSaveFinding   *sql.Stmt
	stmtRecentFinding *sql.Stmt
	stmtSaveFile      *sql.Stmt
	stmtRecentFile    *sql.Stmt
	stmtSaveRun       *sql.Stmt
	stmtRecentRun     *sql.Stmt
	stmtRemember      *sql.Stmt
	stmtRecall        *sql.Stmt
}

// NewSQLiteStore opens (creating if absent) the database at path,
// ensures the schema exists, and prepares every statement the store uses.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("memstore: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memstore: open: %w", err)
	}
	// modernc.org/sqlite serializes internally; a single connection avoids
	// SQLITE_BUSY under concurrent node writes within one run.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("memstore: ping: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS research_findings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			query TEXT NOT NULL,
			findings TEXT NOT NULL,
			citations TEXT,
			collected_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_research_findings_workspace
			ON research_findings (workspace_id, collected_at DESC);

		CREATE TABLE IF NOT EXISTS generated_files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id TEXT NOT NULL,
			path TEXT NOT NULL,
			size INTEGER NOT NULL,
			hash TEXT NOT NULL,
			written_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_generated_files_workspace
			ON generated_files (workspace_id, written_at DESC);

		CREATE TABLE IF NOT EXISTS run_summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			outcome TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_summaries_workspace
			ON run_summaries (workspace_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS memory_kv (
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (session_id, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("memstore: ensure schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error
	s.stmtSaveFinding, err = s.db.Prepare(`
		INSERT INTO research_findings (workspace_id, kind, query, findings, citations, collected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare save finding: %w", err)
	}
	s.stmtRecentFinding, err = s.db.Prepare(`
		SELECT kind, query, findings, citations, collected_at
		FROM research_findings WHERE workspace_id = ?
		ORDER BY collected_at DESC LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare recent findings: %w", err)
	}
	s.stmtSaveFile, err = s.db.Prepare(`
		INSERT INTO generated_files (workspace_id, path, size, hash, written_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare save file: %w", err)
	}
	s.stmtRecentFile, err = s.db.Prepare(`
		SELECT path, size, hash, written_at
		FROM generated_files WHERE workspace_id = ?
		ORDER BY written_at DESC LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare recent files: %w", err)
	}
	s.stmtSaveRun, err = s.db.Prepare(`
		INSERT INTO run_summaries (workspace_id, run_id, summary, outcome, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare save run: %w", err)
	}
	s.stmtRecentRun, err = s.db.Prepare(`
		SELECT run_id, summary, outcome, created_at
		FROM run_summaries WHERE workspace_id = ?
		ORDER BY created_at DESC LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare recent runs: %w", err)
	}
	s.stmtRemember, err = s.db.Prepare(`
		INSERT INTO memory_kv (session_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare remember: %w", err)
	}
	s.stmtRecall, err = s.db.Prepare(`
		SELECT value FROM memory_kv WHERE session_id = ? AND key = ?
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare recall: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveResearchFinding(ctx context.Context, workspaceID string, finding wfstate.ResearchFinding) error {
	citations, err := json.Marshal(finding.Citations)
	if err != nil {
		return fmt.Errorf("memstore: marshal citations: %w", err)
	}
	_, err = s.stmtSaveFinding.ExecContext(ctx, workspaceID, finding.Kind, finding.Query, finding.Findings, string(citations), finding.CollectedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("memstore: save research finding: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentResearchFindings(ctx context.Context, workspaceID string, limit int) ([]wfstate.ResearchFinding, error) {
	rows, err := s.stmtRecentFinding.QueryContext(ctx, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("memstore: recent research findings: %w", err)
	}
	defer rows.Close()

	var out []wfstate.ResearchFinding
	for rows.Next() {
		var f wfstate.ResearchFinding
		var citations, collectedAt string
		if err := rows.Scan(&f.Kind, &f.Query, &f.Findings, &citations, &collectedAt); err != nil {
			return nil, fmt.Errorf("memstore: scan research finding: %w", err)
		}
		if citations != "" {
			if err := json.Unmarshal([]byte(citations), &f.Citations); err != nil {
				return nil, fmt.Errorf("memstore: unmarshal citations: %w", err)
			}
		}
		f.CollectedAt, err = time.Parse(time.RFC3339Nano, collectedAt)
		if err != nil {
			return nil, fmt.Errorf("memstore: parse collected_at: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveGeneratedFile(ctx context.Context, workspaceID string, file wfstate.GeneratedFile) error {
	_, err := s.stmtSaveFile.ExecContext(ctx, workspaceID, file.Path, file.Size, file.Hash, file.WrittenAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("memstore: save generated file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentGeneratedFiles(ctx context.Context, workspaceID string, limit int) ([]wfstate.GeneratedFile, error) {
	rows, err := s.stmtRecentFile.QueryContext(ctx, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("memstore: recent generated files: %w", err)
	}
	defer rows.Close()

	var out []wfstate.GeneratedFile
	for rows.Next() {
		var f wfstate.GeneratedFile
		var writtenAt string
		if err := rows.Scan(&f.Path, &f.Size, &f.Hash, &writtenAt); err != nil {
			return nil, fmt.Errorf("memstore: scan generated file: %w", err)
		}
		var err error
		f.WrittenAt, err = time.Parse(time.RFC3339Nano, writtenAt)
		if err != nil {
			return nil, fmt.Errorf("memstore: parse written_at: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveRunSummary(ctx context.Context, workspaceID string, summary RunSummary) error {
	_, err := s.stmtSaveRun.ExecContext(ctx, workspaceID, summary.RunID, summary.Summary, summary.Outcome, summary.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("memstore: save run summary: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentRunSummaries(ctx context.Context, workspaceID string, limit int) ([]RunSummary, error) {
	rows, err := s.stmtRecentRun.QueryContext(ctx, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("memstore: recent run summaries: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var createdAt string
		if err := rows.Scan(&r.RunID, &r.Summary, &r.Outcome, &createdAt); err != nil {
			return nil, fmt.Errorf("memstore: scan run summary: %w", err)
		}
		var err error
		r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("memstore: parse created_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Remember(ctx context.Context, sessionID, key string, value []byte) error {
	_, err := s.stmtRemember.ExecContext(ctx, sessionID, key, value, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("memstore: remember: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recall(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
	var value []byte
	err := s.stmtRecall.QueryRowContext(ctx, sessionID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memstore: recall: %w", err)
	}
	return value, true, nil
}

// Close closes every prepared statement and the underlying database file.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtSaveFinding, s.stmtRecentFinding,
		s.stmtSaveFile, s.stmtRecentFile,
		s.stmtSaveRun, s.stmtRecentRun,
		s.stmtRemember, s.stmtRecall,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}
