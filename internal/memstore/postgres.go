package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// PostgresConfig holds connection parameters for PostgresStore.
// Grounded on the teacher's sessions.CockroachConfig; field-for-field
// the same shape, since both are lib/pq-driven Postgres wire dialects.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sane local-dev defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "conductor",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store against a Postgres-wire database via
// lib/pq (the DOMAIN STACK's relational memory backend).
type PostgresStore struct {
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

// NewPostgresStore opens a connection pool from config, ensures the
// schema exists, and prepares every statement the store uses.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("memstore: dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("memstore: open: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("memstore: ping: %w", err)
	}

	store := &PostgresStore{db: db}
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

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS research_findings (
			id SERIAL PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			query TEXT NOT NULL,
			findings TEXT NOT NULL,
			citations JSONB,
			collected_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_research_findings_workspace
			ON research_findings (workspace_id, collected_at DESC);

		CREATE TABLE IF NOT EXISTS generated_files (
			id SERIAL PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			path TEXT NOT NULL,
			size BIGINT NOT NULL,
			hash TEXT NOT NULL,
			written_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_generated_files_workspace
			ON generated_files (workspace_id, written_at DESC);

		CREATE TABLE IF NOT EXISTS run_summaries (
			id SERIAL PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			outcome TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_summaries_workspace
			ON run_summaries (workspace_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS memory_kv (
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("memstore: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error
	s.stmtSaveFinding, err = s.db.Prepare(`
		INSERT INTO research_findings (workspace_id, kind, query, findings, citations, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare save finding: %w", err)
	}
	s.stmtRecentFinding, err = s.db.Prepare(`
		SELECT kind, query, findings, citations, collected_at
		FROM research_findings WHERE workspace_id = $1
		ORDER BY collected_at DESC LIMIT $2
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare recent findings: %w", err)
	}
	s.stmtSaveFile, err = s.db.Prepare(`
		INSERT INTO generated_files (workspace_id, path, size, hash, written_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare save file: %w", err)
	}
	s.stmtRecentFile, err = s.db.Prepare(`
		SELECT path, size, hash, written_at
		FROM generated_files WHERE workspace_id = $1
		ORDER BY written_at DESC LIMIT $2
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare recent files: %w", err)
	}
	s.stmtSaveRun, err = s.db.Prepare(`
		INSERT INTO run_summaries (workspace_id, run_id, summary, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare save run: %w", err)
	}
	s.stmtRecentRun, err = s.db.Prepare(`
		SELECT run_id, summary, outcome, created_at
		FROM run_summaries WHERE workspace_id = $1
		ORDER BY created_at DESC LIMIT $2
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare recent runs: %w", err)
	}
	s.stmtRemember, err = s.db.Prepare(`
		INSERT INTO memory_kv (session_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare remember: %w", err)
	}
	s.stmtRecall, err = s.db.Prepare(`
		SELECT value FROM memory_kv WHERE session_id = $1 AND key = $2
	`)
	if err != nil {
		return fmt.Errorf("memstore: prepare recall: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveResearchFinding(ctx context.Context, workspaceID string, finding wfstate.ResearchFinding) error {
	citations, err := json.Marshal(finding.Citations)
	if err != nil {
		return fmt.Errorf("memstore: marshal citations: %w", err)
	}
	_, err = s.stmtSaveFinding.ExecContext(ctx, workspaceID, finding.Kind, finding.Query, finding.Findings, citations, finding.CollectedAt)
	if err != nil {
		return fmt.Errorf("memstore: save research finding: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentResearchFindings(ctx context.Context, workspaceID string, limit int) ([]wfstate.ResearchFinding, error) {
	rows, err := s.stmtRecentFinding.QueryContext(ctx, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("memstore: recent research findings: %w", err)
	}
	defer rows.Close()

	var out []wfstate.ResearchFinding
	for rows.Next() {
		var f wfstate.ResearchFinding
		var citations []byte
		if err := rows.Scan(&f.Kind, &f.Query, &f.Findings, &citations, &f.CollectedAt); err != nil {
			return nil, fmt.Errorf("memstore: scan research finding: %w", err)
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &f.Citations); err != nil {
				return nil, fmt.Errorf("memstore: unmarshal citations: %w", err)
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveGeneratedFile(ctx context.Context, workspaceID string, file wfstate.GeneratedFile) error {
	_, err := s.stmtSaveFile.ExecContext(ctx, workspaceID, file.Path, file.Size, file.Hash, file.WrittenAt)
	if err != nil {
		return fmt.Errorf("memstore: save generated file: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentGeneratedFiles(ctx context.Context, workspaceID string, limit int) ([]wfstate.GeneratedFile, error) {
	rows, err := s.stmtRecentFile.QueryContext(ctx, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("memstore: recent generated files: %w", err)
	}
	defer rows.Close()

	var out []wfstate.GeneratedFile
	for rows.Next() {
		var f wfstate.GeneratedFile
		if err := rows.Scan(&f.Path, &f.Size, &f.Hash, &f.WrittenAt); err != nil {
			return nil, fmt.Errorf("memstore: scan generated file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveRunSummary(ctx context.Context, workspaceID string, summary RunSummary) error {
	_, err := s.stmtSaveRun.ExecContext(ctx, workspaceID, summary.RunID, summary.Summary, summary.Outcome, summary.CreatedAt)
	if err != nil {
		return fmt.Errorf("memstore: save run summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentRunSummaries(ctx context.Context, workspaceID string, limit int) ([]RunSummary, error) {
	rows, err := s.stmtRecentRun.QueryContext(ctx, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("memstore: recent run summaries: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Summary, &r.Outcome, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("memstore: scan run summary: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Remember(ctx context.Context, sessionID, key string, value []byte) error {
	_, err := s.stmtRemember.ExecContext(ctx, sessionID, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("memstore: remember: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recall(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
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

// Close closes every prepared statement and the underlying pool.
func (s *PostgresStore) Close() error {
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
