package statestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/zextras/reposync/internal/manifest"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed State Store: load(repo) and commit(repo,
// state), serialized by the Scheduler's single-flight guarantee so no
// additional locking is needed here.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens dbPath (creating it if absent) and runs pending migrations.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("state store initialized", "path", dbPath)
	return s, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Load returns the persisted PriorState for repo, or (nil, nil) if the
// repository has never completed an attempt — the "empty on first run"
// case the Planner treats as an empty manifest to diff against.
func (s *Store) Load(repo string) (*PriorState, error) {
	const query = `SELECT manifest_json, committed_at, last_result, last_attempt_at FROM repo_state WHERE repo = ?`

	var manifestJSON string
	var committedAt, lastAttemptAt time.Time
	var lastResult string

	err := s.db.QueryRow(query, repo).Scan(&manifestJSON, &committedAt, &lastResult, &lastAttemptAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query repo_state: %w", err)
	}

	var m manifest.Manifest
	if err := json.Unmarshal([]byte(manifestJSON), &m); err != nil {
		return nil, fmt.Errorf("decode persisted manifest: %w", err)
	}

	return &PriorState{
		Repo:          repo,
		Manifest:      m,
		CommittedAt:   committedAt,
		LastResult:    lastResult,
		LastAttemptAt: lastAttemptAt,
	}, nil
}

// Commit atomically rewrites the persisted PriorState for state.Repo. On a
// successful run the Executor passes a state with a fresh Manifest and
// CommittedAt; on a failed run it passes the state returned by Load with
// only LastResult/LastAttemptAt updated, so the manifest the Planner will
// diff against next time (M_old) is left untouched.
func (s *Store) Commit(state PriorState) error {
	manifestJSON, err := json.Marshal(state.Manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	const query = `
		INSERT INTO repo_state (repo, manifest_json, committed_at, last_result, last_attempt_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(repo) DO UPDATE SET
			manifest_json = excluded.manifest_json,
			committed_at = excluded.committed_at,
			last_result = excluded.last_result,
			last_attempt_at = excluded.last_attempt_at
	`
	_, err = s.db.Exec(query, state.Repo, string(manifestJSON), state.CommittedAt, state.LastResult, state.LastAttemptAt)
	if err != nil {
		return fmt.Errorf("commit repo_state: %w", err)
	}
	return nil
}

// RecordRun appends a historical run entry, purely for operational
// visibility — it plays no part in the correctness protocol.
func (s *Store) RecordRun(run Run) error {
	const query = `
		INSERT INTO sync_runs (repo, start_time, end_time, status, packages, bytes)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, run.Repo, run.StartTime, run.EndTime, run.Status, run.Packages, run.Bytes)
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent limit runs for repo, newest first.
func (s *Store) ListRuns(repo string, limit int) ([]Run, error) {
	const query = `
		SELECT id, repo, start_time, end_time, status, packages, bytes
		FROM sync_runs WHERE repo = ? ORDER BY start_time DESC LIMIT ?
	`
	rows, err := s.db.Query(query, repo, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync_runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Repo, &r.StartTime, &r.EndTime, &r.Status, &r.Packages, &r.Bytes); err != nil {
			return nil, fmt.Errorf("scan sync_run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
