// Package audit persists a log of tool invocations to SQLite. The log is
// optional; when no database path is configured the bridge persists nothing
// beyond transient staging files.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Invocation is one recorded tool call.
type Invocation struct {
	Tool     string
	Target   string // container id or "host"
	ExitCode int
	Success  bool
	Bytes    int64
	Duration time.Duration
}

// Store is a SQLite-backed invocation log.
type Store struct{ db *sql.DB }

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// Record appends one invocation to the log.
func (s *Store) Record(ctx context.Context, inv Invocation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (id, tool, target, exit_code, success, bytes, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), inv.Tool, inv.Target, inv.ExitCode, boolToInt(inv.Success), inv.Bytes, inv.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

// CountByTool reports how many invocations were recorded for a tool name.
func (s *Store) CountByTool(ctx context.Context, tool string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocations WHERE tool = ?`, tool).Scan(&n)
	return n, err
}

func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
