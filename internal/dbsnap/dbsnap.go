// Package dbsnap dumps a live database to SQL text and restores it from
// SQL text.
//
// Two snapshotters are provided: Command drives an external dump/restore
// tool pair (mysqldump/mysql, pg_dump/psql, sqlite3 .dump), and SQLite dumps
// an embedded SQLite file in-process. Neither retries.
package dbsnap

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Snapshotter serializes a database to SQL text and back.
type Snapshotter interface {
	// Name identifies the snapshotter in logs.
	Name() string

	// Dump streams the full database as SQL to w.
	Dump(ctx context.Context, w io.Writer) error

	// Restore replaces the database contents with the SQL read from r.
	// This is destructive.
	Restore(ctx context.Context, r io.Reader) error
}

var (
	// ErrToolUnavailable is returned when the dump or restore binary is
	// missing or the database cannot be opened.
	ErrToolUnavailable = errors.New("database tool unavailable")

	// ErrToolFailed is returned when the tool ran and reported failure.
	ErrToolFailed = errors.New("database tool failed")
)

// ToolError carries the diagnostic output of a failed tool run.
type ToolError struct {
	Op       string // "dump" or "restore"
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s via %s failed", e.Op, e.Tool)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolError) Unwrap() []error {
	return []error{ErrToolFailed, e.Err}
}
