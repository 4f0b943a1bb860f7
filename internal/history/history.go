// Package history keeps a local journal of finished sync operations.
//
// The journal is an embedded SQLite database in the state directory, outside
// the repository, so it never travels with a push. Its schema is managed by
// goose migrations embedded in the binary.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pressly/goose/v3"
)

// timeFormat is fixed width so that text ordering is chronological.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Entry is one finished operation as stored in the journal.
type Entry struct {
	ID         string    `json:"id" yaml:"id"`
	Kind       string    `json:"kind" yaml:"kind"`
	Trigger    string    `json:"trigger" yaml:"trigger"`
	Status     string    `json:"status" yaml:"status"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Message    string    `json:"message,omitempty" yaml:"message,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	FailedStep string    `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
	Skipped    []string  `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Backup     string    `json:"backup,omitempty" yaml:"backup,omitempty"`
}

// Duration returns how long the operation ran.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Journal is the operation history database.
type Journal struct {
	conn *sql.DB
	path string
}

// Open opens or creates the journal at path and applies pending migrations.
// The caller must call Close.
func Open(ctx context.Context, path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping history: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	j := &Journal{conn: conn, path: path}
	if err := j.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, j.conn, migrations)
	if err != nil {
		return fmt.Errorf("failed to load history migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to migrate history: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Close checkpoints the WAL and closes the database.
func (j *Journal) Close() error {
	if j.conn == nil {
		return nil
	}
	_, _ = j.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := j.conn.Close(); err != nil {
		return fmt.Errorf("failed to close history: %w", err)
	}
	j.conn = nil
	return nil
}

// Record stores e, replacing an earlier entry with the same ID.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("history entry has no id")
	}

	skipped := e.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	skippedJSON, err := json.Marshal(skipped)
	if err != nil {
		return fmt.Errorf("failed to encode skipped steps: %w", err)
	}

	var finished sql.NullString
	if !e.FinishedAt.IsZero() {
		finished = sql.NullString{String: e.FinishedAt.UTC().Format(timeFormat), Valid: true}
	}

	_, err = j.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO operations
			(id, kind, trigger, status, started_at, finished_at, message, error, failed_step, skipped, backup)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Trigger, e.Status,
		e.StartedAt.UTC().Format(timeFormat), finished,
		e.Message, e.Error, e.FailedStep, string(skippedJSON), e.Backup)
	if err != nil {
		return fmt.Errorf("failed to record operation %s: %w", e.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, kind, trigger, status, started_at, finished_at, message, error, failed_step, skipped, backup FROM operations`

// List returns up to limit entries, newest first. A limit of zero or less
// returns everything.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	query := selectColumns + ` ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Last returns the newest entry, or nil when the journal is empty.
func (j *Journal) Last(ctx context.Context) (*Entry, error) {
	return j.queryOne(ctx, selectColumns+` ORDER BY started_at DESC LIMIT 1`)
}

// LastSucceeded returns the newest succeeded entry, or nil.
func (j *Journal) LastSucceeded(ctx context.Context) (*Entry, error) {
	return j.queryOne(ctx, selectColumns+` WHERE status = 'succeeded' ORDER BY started_at DESC LIMIT 1`)
}

func (j *Journal) queryOne(ctx context.Context, query string) (*Entry, error) {
	e, err := scanEntry(j.conn.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                Entry
		started, skipped string
		finished         sql.NullString
	)
	if err := s.Scan(&e.ID, &e.Kind, &e.Trigger, &e.Status, &started, &finished,
		&e.Message, &e.Error, &e.FailedStep, &skipped, &e.Backup); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("failed to scan history entry: %w", err)
	}

	var err error
	if e.StartedAt, err = time.Parse(timeFormat, started); err != nil {
		return Entry{}, fmt.Errorf("bad started_at for %s: %w", e.ID, err)
	}
	if finished.Valid {
		if e.FinishedAt, err = time.Parse(timeFormat, finished.String); err != nil {
			return Entry{}, fmt.Errorf("bad finished_at for %s: %w", e.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(skipped), &e.Skipped); err != nil {
		return Entry{}, fmt.Errorf("bad skipped for %s: %w", e.ID, err)
	}
	if len(e.Skipped) == 0 {
		e.Skipped = nil
	}
	return e, nil
}
