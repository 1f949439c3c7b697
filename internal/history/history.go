// Package history records settled generations in SQLite. Only results
// are journaled; the queue itself is never persisted.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/genq/pkg/model"

	_ "modernc.org/sqlite"
)

// Settle statuses recorded in the journal.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// StatusOf maps a task settlement to its journal status.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return StatusCompleted
	case model.IsCancellation(err):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Record is one settled generation.
type Record struct {
	TaskID       string    `json:"task_id"`
	Model        string    `json:"model"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	Output       string    `json:"output,omitempty"`
	PromptTokens int       `json:"prompt_tokens"`
	OutputTokens int       `json:"output_tokens"`
	RetryCount   int       `json:"retry_count"`
	CreatedAt    time.Time `json:"created_at"`
	SettledAt    time.Time `json:"settled_at"`
}

// Store is the SQLite-backed journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the journal database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "history"),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the journal table and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Insert journals one settled generation.
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	s.logger.Debug("sql", "op", "insert", "task_id", rec.TaskID, "status", rec.Status)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations (task_id, model, status, error, output, prompt_tokens, output_tokens, retry_count, created_at, settled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.Model, rec.Status, rec.Error, rec.Output,
		rec.PromptTokens, rec.OutputTokens, rec.RetryCount,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.SettledAt.Format(time.RFC3339Nano),
	)
	return err
}

// Get returns one record by task id, or nil when absent.
func (s *Store) Get(ctx context.Context, taskID string) (*Record, error) {
	s.logger.Debug("sql", "op", "select", "task_id", taskID)

	var rec Record
	var createdAt, settledAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT task_id, model, status, error, output, prompt_tokens, output_tokens, retry_count, created_at, settled_at
		 FROM generations WHERE task_id = ?`, taskID,
	).Scan(&rec.TaskID, &rec.Model, &rec.Status, &rec.Error, &rec.Output,
		&rec.PromptTokens, &rec.OutputTokens, &rec.RetryCount, &createdAt, &settledAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.SettledAt, _ = time.Parse(time.RFC3339Nano, settledAt)
	return &rec, nil
}

// List returns records newest-first with pagination and an optional
// status filter, plus the total matching count.
func (s *Store) List(ctx context.Context, opts model.ListOptions) ([]*Record, int, error) {
	opts.Clamp()
	s.logger.Debug("sql", "op", "list", "limit", opts.Limit, "offset", opts.Offset, "status", opts.Status)

	where := ""
	args := []any{}
	if opts.Status != "" {
		where = " WHERE status = ?"
		args = append(args, opts.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM generations"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, model, status, error, output, prompt_tokens, output_tokens, retry_count, created_at, settled_at
		 FROM generations`+where+` ORDER BY settled_at DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var rec Record
		var createdAt, settledAt string
		if err := rows.Scan(&rec.TaskID, &rec.Model, &rec.Status, &rec.Error, &rec.Output,
			&rec.PromptTokens, &rec.OutputTokens, &rec.RetryCount, &createdAt, &settledAt); err != nil {
			return nil, 0, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		rec.SettledAt, _ = time.Parse(time.RFC3339Nano, settledAt)
		recs = append(recs, &rec)
	}
	return recs, total, rows.Err()
}
