package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store persists run journals in sqlite. Writers serialize on a file lock so
// concurrent CLI invocations do not interleave updates.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create run store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create run lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			owner TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_runs_status_updated ON runs(status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init run schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(run *Run) error {
	if run == nil || strings.TrimSpace(run.RunID) == "" {
		return fmt.Errorf("save run: missing run id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock run store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock run store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	run.mu.Lock()
	payload, err := json.Marshal(run)
	kind, status, chainID, owner := run.Kind, run.Status, run.ChainID, run.Owner
	createdUnix := parseRFC3339Unix(run.CreatedAt)
	updatedUnix := parseRFC3339Unix(run.UpdatedAt)
	run.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, kind, status, chain_id, owner, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status=excluded.status,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, run.RunID, kind, status, chainID, owner, createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) Get(runID string) (*Run, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM runs WHERE run_id = ?", runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, fmt.Errorf("read run: %w", err)
	}
	var run Run
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("decode run payload: %w", err)
	}
	return &run, nil
}

// List returns runs newest first, optionally filtered by status and kind.
func (s *Store) List(status, kind string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT payload FROM runs"
	var (
		where []string
		args  []any
	)
	if v := strings.TrimSpace(status); v != "" {
		where = append(where, "status = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(kind); v != "" {
		where = append(where, "kind = ?")
		args = append(args, v)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		var run Run
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, fmt.Errorf("decode run row: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func parseRFC3339Unix(v string) int64 {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Now().UTC().Unix()
	}
	return t.UTC().Unix()
}
