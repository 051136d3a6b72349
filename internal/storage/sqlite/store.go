// Package sqlite implements the tuner's resume index: a small embedded
// database recording, per data directory, which tuning session is running
// there, how far it got, and its best configuration so far.
//
// The orchestrator writes to the index as a session runs (UpsertSession,
// RecordIteration, MarkCompleted), but nothing reads it back during a run:
// whether `tuner run` skips a workload on restart is decided by the
// presence of that workload's perf file, not by the index.
//
// Features:
//   - WAL mode enabled (concurrent reads during writes)
//   - Foreign keys enabled (iterations cascade with their session)
//   - Secure file permissions (0600, owner read/write only)
//   - Thread-safe operations (RWMutex)
//   - Schema managed by goose migrations (see migrations/)
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	// Pure Go SQLite driver (no CGO, easier cross-compilation)
	_ "modernc.org/sqlite"

	"github.com/ipiton/dbtuner/internal/infrastructure/migrations"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SessionStatus is the lifecycle state of a tuning session recorded in the index.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusAborted   SessionStatus = "aborted"
)

// Session is one row of the sessions table: the resume point for a tuning
// run keyed by the target database's data directory.
type Session struct {
	DataPath        string
	Benchmark       string
	TuningMethod    string
	Seed            int64
	StartedAt       time.Time
	UpdatedAt       time.Time
	Status          SessionStatus
	LastIteration   int
	BestObjective   *float64
	IncumbentConfig json.RawMessage
}

// Store is a thread-safe handle to the resume-index SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
	mu     sync.RWMutex
}

// Open creates or opens the resume-index database at path, applying any
// pending migrations. Path must not traverse outside its declared directory
// and must not land under a handful of forbidden system prefixes.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("sqlite: invalid path contains '..': %s", path)
	}
	forbiddenPrefixes := []string{"/etc", "/sys", "/proc", "/dev"}
	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(path, prefix) {
			return nil, fmt.Errorf("sqlite: forbidden path prefix %s: %s", prefix, path)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("sqlite: failed to create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0600); err != nil {
		logger.Warn("failed to set resume-index file permissions to 0600", "path", path, "error", err)
	}

	logger.Info("resume index opened", "path", path)

	return &Store{db: db, logger: logger, path: path}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	mgr, err := migrations.NewMigrationManager(&migrations.MigrationConfig{
		Driver:     "sqlite",
		Dialect:    "sqlite3",
		Dir:        "migrations",
		Table:      "goose_db_version",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
		Logger:     logger,
	}, db)
	if err != nil {
		return fmt.Errorf("sqlite: failed to build migration manager: %w", err)
	}
	goose.SetBaseFS(migrationFS)
	if err := mgr.Up(ctx); err != nil {
		return fmt.Errorf("sqlite: failed to apply resume-index migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database handle. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// UpsertSession records the start of a tuning session, or refreshes its
// bookkeeping fields if one already exists at the same data path.
func (s *Store) UpsertSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	query := `
INSERT INTO sessions (data_path, benchmark, tuning_method, seed, started_at, updated_at, status, last_iteration, best_objective, incumbent_config)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(data_path) DO UPDATE SET
    updated_at = excluded.updated_at,
    status = excluded.status
`
	_, err := s.db.ExecContext(ctx, query,
		sess.DataPath, sess.Benchmark, sess.TuningMethod, sess.Seed,
		now, now, string(StatusRunning), sess.LastIteration, sess.BestObjective, string(sess.IncumbentConfig),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert session: %w", err)
	}

	s.logger.Debug("tuning session recorded", "data_path", sess.DataPath, "benchmark", sess.Benchmark)
	return nil
}

// GetSession fetches the resume point for dataPath. found is false if no
// session has ever been recorded there.
func (s *Store) GetSession(ctx context.Context, dataPath string) (sess Session, found bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
SELECT data_path, benchmark, tuning_method, seed, started_at, updated_at, status, last_iteration, best_objective, incumbent_config
FROM sessions WHERE data_path = ?
`
	var startedAt, updatedAt int64
	var status string
	var bestObjective sql.NullFloat64
	var incumbent sql.NullString

	row := s.db.QueryRowContext(ctx, query, dataPath)
	scanErr := row.Scan(&sess.DataPath, &sess.Benchmark, &sess.TuningMethod, &sess.Seed,
		&startedAt, &updatedAt, &status, &sess.LastIteration, &bestObjective, &incumbent)

	if scanErr == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if scanErr != nil {
		return Session{}, false, fmt.Errorf("sqlite: failed to get session: %w", scanErr)
	}

	sess.StartedAt = time.UnixMilli(startedAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	sess.Status = SessionStatus(status)
	if bestObjective.Valid {
		sess.BestObjective = &bestObjective.Float64
	}
	if incumbent.Valid {
		sess.IncumbentConfig = json.RawMessage(incumbent.String)
	}

	return sess, true, nil
}

// RecordIteration appends one tuning-loop iteration and, when it improves on
// the session's incumbent, advances best_objective/incumbent_config too.
// Lower objective is better (the tuner minimizes -throughput or latency).
func (s *Store) RecordIteration(ctx context.Context, dataPath string, iteration int, objective float64, note string, configJSON json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO iterations (data_path, iteration, objective, note, recorded_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(data_path, iteration) DO UPDATE SET objective = excluded.objective, note = excluded.note
`, dataPath, iteration, objective, note, now); err != nil {
		return fmt.Errorf("sqlite: failed to record iteration: %w", err)
	}

	var currentBest sql.NullFloat64
	if err := tx.QueryRowContext(ctx, `SELECT best_objective FROM sessions WHERE data_path = ?`, dataPath).Scan(&currentBest); err != nil {
		return fmt.Errorf("sqlite: failed to read current best objective: %w", err)
	}

	improved := !currentBest.Valid || objective < currentBest.Float64

	if improved {
		if _, err := tx.ExecContext(ctx, `
UPDATE sessions SET last_iteration = ?, updated_at = ?, best_objective = ?, incumbent_config = ?
WHERE data_path = ?
`, iteration, now, objective, string(configJSON), dataPath); err != nil {
			return fmt.Errorf("sqlite: failed to update incumbent: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
UPDATE sessions SET last_iteration = ?, updated_at = ? WHERE data_path = ?
`, iteration, now, dataPath); err != nil {
			return fmt.Errorf("sqlite: failed to advance last_iteration: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit iteration: %w", err)
	}

	return nil
}

// MarkCompleted closes out a session so a future run against the same
// data_path starts a fresh baseline instead of resuming.
func (s *Store) MarkCompleted(ctx context.Context, dataPath string, aborted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := StatusCompleted
	if aborted {
		status = StatusAborted
	}

	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ?, updated_at = ? WHERE data_path = ?`,
		string(status), time.Now().UnixMilli(), dataPath)
	if err != nil {
		return fmt.Errorf("sqlite: failed to mark session %s: %w", status, err)
	}
	return nil
}

// Health checks database connection liveness.
func (s *Store) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return fmt.Errorf("sqlite: connection is closed")
	}
	return s.db.PingContext(ctx)
}
