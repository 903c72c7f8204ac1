package memstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// setupMockStore builds a PostgresStore around a sqlmock connection,
// preparing only the statements an individual test needs.
func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock, &PostgresStore{db: db}
}

func TestPostgresStore_SaveResearchFinding(t *testing.T) {
	db, mock, store := setupMockStore(t)
	mock.ExpectPrepare("INSERT INTO research_findings")
	stmt, err := db.Prepare("INSERT INTO research_findings (workspace_id, kind, query, findings, citations, collected_at) VALUES ($1, $2, $3, $4, $5, $6)")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	store.stmtSaveFinding = stmt

	mock.ExpectExec("INSERT INTO research_findings").
		WithArgs("ws-1", "web_search", "rate limiting", "use token bucket", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	finding := wfstate.ResearchFinding{
		Kind:        "web_search",
		Query:       "rate limiting",
		Findings:    "use token bucket",
		Citations:   []string{"https://example.com"},
		CollectedAt: time.Now(),
	}
	if err := store.SaveResearchFinding(context.Background(), "ws-1", finding); err != nil {
		t.Fatalf("SaveResearchFinding() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_RecentResearchFindings(t *testing.T) {
	db, mock, store := setupMockStore(t)
	mock.ExpectPrepare("SELECT kind, query, findings, citations, collected_at")
	stmt, err := db.Prepare("SELECT kind, query, findings, citations, collected_at FROM research_findings WHERE workspace_id = $1 ORDER BY collected_at DESC LIMIT $2")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	store.stmtRecentFinding = stmt

	now := time.Now()
	rows := sqlmock.NewRows([]string{"kind", "query", "findings", "citations", "collected_at"}).
		AddRow("workspace_scan", "structure", "three packages", []byte(`["file:///a.go"]`), now)
	mock.ExpectQuery("SELECT kind, query, findings, citations, collected_at").
		WithArgs("ws-1", 5).
		WillReturnRows(rows)

	found, err := store.RecentResearchFindings(context.Background(), "ws-1", 5)
	if err != nil {
		t.Fatalf("RecentResearchFindings() error = %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("got %d findings, want 1", len(found))
	}
	if found[0].Kind != "workspace_scan" {
		t.Errorf("got kind %q, want workspace_scan", found[0].Kind)
	}
	if len(found[0].Citations) != 1 || found[0].Citations[0] != "file:///a.go" {
		t.Errorf("got citations %v, want [file:///a.go]", found[0].Citations)
	}
}

func TestPostgresStore_SaveGeneratedFile(t *testing.T) {
	db, mock, store := setupMockStore(t)
	mock.ExpectPrepare("INSERT INTO generated_files")
	stmt, err := db.Prepare("INSERT INTO generated_files (workspace_id, path, size, hash, written_at) VALUES ($1, $2, $3, $4, $5)")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	store.stmtSaveFile = stmt

	mock.ExpectExec("INSERT INTO generated_files").
		WithArgs("ws-1", "main.go", int64(128), "abc123", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	file := wfstate.GeneratedFile{Path: "main.go", Size: 128, Hash: "abc123", WrittenAt: time.Now()}
	if err := store.SaveGeneratedFile(context.Background(), "ws-1", file); err != nil {
		t.Fatalf("SaveGeneratedFile() error = %v", err)
	}
}

func TestPostgresStore_RememberUpserts(t *testing.T) {
	db, mock, store := setupMockStore(t)
	mock.ExpectPrepare("INSERT INTO memory_kv")
	stmt, err := db.Prepare("INSERT INTO memory_kv (session_id, key, value, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	store.stmtRemember = stmt

	mock.ExpectExec("INSERT INTO memory_kv").
		WithArgs("session-1", "k", []byte("v"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Remember(context.Background(), "session-1", "k", []byte("v")); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
}

func TestPostgresStore_RecallMissingKeyReturnsFalse(t *testing.T) {
	db, mock, store := setupMockStore(t)
	mock.ExpectPrepare("SELECT value FROM memory_kv")
	stmt, err := db.Prepare("SELECT value FROM memory_kv WHERE session_id = $1 AND key = $2")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	store.stmtRecall = stmt

	mock.ExpectQuery("SELECT value FROM memory_kv").
		WithArgs("session-1", "absent").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := store.Recall(context.Background(), "session-1", "absent")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if ok {
		t.Error("expected ok = false for a missing key")
	}
}

func TestPostgresStore_SaveRunSummaryPropagatesDBError(t *testing.T) {
	db, mock, store := setupMockStore(t)
	mock.ExpectPrepare("INSERT INTO run_summaries")
	stmt, err := db.Prepare("INSERT INTO run_summaries (workspace_id, run_id, summary, outcome, created_at) VALUES ($1, $2, $3, $4, $5)")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	store.stmtSaveRun = stmt

	mock.ExpectExec("INSERT INTO run_summaries").WillReturnError(sql.ErrConnDone)

	err = store.SaveRunSummary(context.Background(), "ws-1", RunSummary{RunID: "run-1", Summary: "built the API", Outcome: "completed", CreatedAt: time.Now()})
	if err == nil {
		t.Fatal("expected an error from a failed insert")
	}
}
