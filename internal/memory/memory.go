// Package memory is the cross-run store: one SQLite row per completed run,
// recalled by keyword when a new objective resembles an old one.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Entry is one recorded run.
type Entry struct {
	ID          int64
	Objective   string
	ProjectType string
	ProjectPath string
	Status      string
	Summary     string
	CreatedAt   time.Time
}

// Store persists run entries in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open initializes the database at path, creating parent directories.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}

	s := &Store{db: db, logger: logger.Named("memory")}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		objective TEXT NOT NULL,
		project_type TEXT NOT NULL,
		project_path TEXT NOT NULL,
		status TEXT NOT NULL,
		summary TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_objective ON runs(objective);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize memory schema: %w", err)
	}
	return nil
}

// Record stores one completed run.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (objective, project_type, project_path, status, summary) VALUES (?, ?, ?, ?, ?)`,
		e.Objective, e.ProjectType, e.ProjectPath, e.Status, e.Summary)
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}
	s.logger.Debug("run recorded", zap.Int64("id", id), zap.String("status", e.Status))
	return id, nil
}

// Search returns runs whose objective or summary contains any of the
// keywords, newest first.
func (s *Store) Search(ctx context.Context, keywords []string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 5
	}
	var clauses []string
	var args []any
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		clauses = append(clauses, "(objective LIKE ? OR summary LIKE ?)")
		pattern := "%" + kw + "%"
		args = append(args, pattern, pattern)
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	query := `SELECT id, objective, project_type, project_path, status, summary, created_at
		FROM runs WHERE ` + strings.Join(clauses, " OR ") + `
		ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search runs: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// List returns the newest runs.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, objective, project_type, project_path, status, summary, created_at
		FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var summary sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.Objective, &e.ProjectType, &e.ProjectPath, &e.Status, &summary, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.Summary = summary.String
		e.CreatedAt = parseTimestamp(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// parseTimestamp tolerates the formats SQLite emits for CURRENT_TIMESTAMP.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, time.RFC3339Nano} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
