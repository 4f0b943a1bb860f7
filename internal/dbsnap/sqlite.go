package dbsnap

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLite dumps and restores a SQLite database file in-process.
//
// The dump is plain SQL: schema statements followed by INSERTs, ordered so
// that an unchanged database always produces byte-identical output.
type SQLite struct {
	Path string
}

// NewSQLite returns a snapshotter for the database file at path.
func NewSQLite(path string) *SQLite {
	return &SQLite{Path: path}
}

// Name returns "sqlite".
func (s *SQLite) Name() string {
	return "sqlite"
}

type schemaObject struct {
	kind string
	name string
	sql  string
}

// Dump writes the database as SQL to w inside a read transaction.
func (s *SQLite) Dump(ctx context.Context, w io.Writer) error {
	if _, err := os.Stat(s.Path); err != nil {
		return fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}

	db, err := sql.Open("sqlite3", "file:"+s.Path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %v", ErrToolUnavailable, s.Path, err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return s.toolError("dump", err)
	}
	defer func() { _ = tx.Rollback() }()

	objects, err := listObjects(ctx, tx)
	if err != nil {
		return s.toolError("dump", err)
	}

	var version int64
	if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return s.toolError("dump", err)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "-- dbsync sqlite dump")
	fmt.Fprintf(bw, "PRAGMA user_version=%d;\n", version)

	for _, obj := range objects {
		if obj.kind != "table" {
			continue
		}
		fmt.Fprintf(bw, "%s;\n", obj.sql)
		if strings.HasPrefix(strings.ToUpper(obj.sql), "CREATE VIRTUAL TABLE") {
			continue
		}
		if err := dumpRows(ctx, tx, bw, obj.name); err != nil {
			return s.toolError("dump", err)
		}
	}
	if err := dumpSequences(ctx, tx, bw); err != nil {
		return s.toolError("dump", err)
	}
	for _, obj := range objects {
		if obj.kind != "table" {
			fmt.Fprintf(bw, "%s;\n", obj.sql)
		}
	}

	// bufio errors are sticky; Flush reports the first failed write.
	return bw.Flush()
}

// listObjects returns user schema objects: tables first, then indexes,
// views and triggers, each group sorted by name.
func listObjects(ctx context.Context, tx *sql.Tx) ([]schemaObject, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT type, name, sql FROM sqlite_master
		WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY CASE type
			WHEN 'table' THEN 0 WHEN 'index' THEN 1 WHEN 'view' THEN 2 ELSE 3 END,
			name`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	defer rows.Close()

	var objects []schemaObject
	for rows.Next() {
		var obj schemaObject
		if err := rows.Scan(&obj.kind, &obj.name, &obj.sql); err != nil {
			return nil, fmt.Errorf("failed to scan schema: %w", err)
		}
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

// dumpRows writes one INSERT per row. Values are rendered by SQLite's own
// quote() so every storage class round-trips exactly.
func dumpRows(ctx context.Context, tx *sql.Tx, w io.Writer, table string) error {
	cols, err := tableColumns(ctx, tx, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}

	quoted := make([]string, len(cols))
	exprs := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		exprs[i] = "quote(" + quoted[i] + ")"
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, " || ',' || "), quoteIdent(table))
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	prefix := fmt.Sprintf("INSERT INTO %s(%s) VALUES(", quoteIdent(table), strings.Join(quoted, ","))
	for rows.Next() {
		var values string
		if err := rows.Scan(&values); err != nil {
			return fmt.Errorf("failed to scan %s: %w", table, err)
		}
		if _, err := fmt.Fprintf(w, "%s%s);\n", prefix, values); err != nil {
			return err
		}
	}
	return rows.Err()
}

// dumpSequences writes the AUTOINCREMENT counters. They go after the rows,
// whose inserts would otherwise move them to max(rowid).
func dumpSequences(ctx context.Context, tx *sql.Tx, w io.Writer) error {
	ok, err := hasSequenceTable(ctx, tx)
	if err != nil || !ok {
		return err
	}

	rows, err := tx.QueryContext(ctx, "SELECT quote(name), seq FROM sqlite_sequence ORDER BY name")
	if err != nil {
		return fmt.Errorf("failed to read sqlite_sequence: %w", err)
	}
	defer rows.Close()

	if _, err := fmt.Fprintln(w, "DELETE FROM sqlite_sequence;"); err != nil {
		return err
	}
	for rows.Next() {
		var name string
		var seq int64
		if err := rows.Scan(&name, &seq); err != nil {
			return fmt.Errorf("failed to scan sqlite_sequence: %w", err)
		}
		if _, err := fmt.Fprintf(w, "INSERT INTO sqlite_sequence(name,seq) VALUES(%s,%d);\n", name, seq); err != nil {
			return err
		}
	}
	return rows.Err()
}

func hasSequenceTable(ctx context.Context, tx *sql.Tx) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to read schema: %w", err)
	}
	return n > 0, nil
}

func tableColumns(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// Restore drops every user object and replays the SQL read from r, all in
// one transaction. A failing script leaves the database untouched.
func (s *SQLite) Restore(ctx context.Context, r io.Reader) error {
	script, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read restore input: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}

	db, err := sql.Open("sqlite3", "file:"+s.Path)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %v", ErrToolUnavailable, s.Path, err)
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return s.toolError("restore", err)
	}
	defer conn.Close()

	// Must run outside the transaction to take effect.
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
		return s.toolError("restore", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return s.toolError("restore", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := dropObjects(ctx, tx); err != nil {
		return s.toolError("restore", err)
	}
	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return s.toolError("restore", err)
	}
	if err := tx.Commit(); err != nil {
		return s.toolError("restore", err)
	}
	return nil
}

func dropObjects(ctx context.Context, tx *sql.Tx) error {
	objects, err := listObjects(ctx, tx)
	if err != nil {
		return err
	}

	// triggers and views before the tables they reference; indexes go with
	// their tables
	for _, kind := range []string{"trigger", "view", "table"} {
		for _, obj := range objects {
			if obj.kind != kind {
				continue
			}
			stmt := fmt.Sprintf("DROP %s IF EXISTS %s", strings.ToUpper(kind), quoteIdent(obj.name))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to drop %s %s: %w", kind, obj.name, err)
			}
		}
	}

	// sqlite_sequence cannot be dropped; empty it so the script's counters
	// are the only ones left.
	ok, err := hasSequenceTable(ctx, tx)
	if err != nil || !ok {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sqlite_sequence"); err != nil {
		return fmt.Errorf("failed to clear sqlite_sequence: %w", err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *SQLite) toolError(op string, err error) error {
	return &ToolError{Op: op, Tool: "sqlite", ExitCode: -1, Err: err}
}
