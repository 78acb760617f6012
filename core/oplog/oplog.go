// Package oplog is the append-only audit ledger. Every mutating engine call
// records an entry here on both its success and failure paths, with enough
// detail to reconstruct what happened without replaying repository history.
package oplog

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Outcome is the recorded result of an operation.
type Outcome string

const (
	// OutcomeOK means the operation completed successfully.
	OutcomeOK Outcome = "ok"
	// OutcomeConflict means the operation surfaced merge conflicts, an
	// expected workflow result.
	OutcomeConflict Outcome = "conflict"
	// OutcomeError means the operation failed.
	OutcomeError Outcome = "error"
)

// Entry is one immutable ledger record.
type Entry struct {
	ID       int64
	At       time.Time
	Op       string
	Actor    string
	Branch   string
	Path     string
	Outcome  Outcome
	ErrKind  string
	Duration time.Duration
	Detail   string
}

const schema = `
CREATE TABLE IF NOT EXISTS operation_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	at          INTEGER NOT NULL,
	op          TEXT    NOT NULL,
	actor       TEXT    NOT NULL DEFAULT '',
	branch      TEXT    NOT NULL DEFAULT '',
	path        TEXT    NOT NULL DEFAULT '',
	outcome     TEXT    NOT NULL,
	err_kind    TEXT    NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	detail      TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_operation_log_at ON operation_log(at);
`

// Log is the sqlite-backed ledger. Safe for concurrent use; sqlite
// serializes writers.
type Log struct {
	db *sql.DB
}

// Open opens (and if needed creates) the ledger inside the database at
// path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open operation log: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create operation log schema: %w", err)
	}

	return &Log{db: db}, nil
}

// OpenDB wraps an existing database handle, creating the schema if needed.
// Used when the ledger shares a database with the edit-context store.
func OpenDB(db *sql.DB) (*Log, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create operation log schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append writes one entry. Entries are never updated or deleted.
func (l *Log) Append(e Entry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := l.db.Exec(
		`INSERT INTO operation_log
		 (at, op, actor, branch, path, outcome, err_kind, duration_ms, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UnixMilli(), e.Op, e.Actor, e.Branch, e.Path,
		string(e.Outcome), e.ErrKind, e.Duration.Milliseconds(), e.Detail,
	)
	if err != nil {
		return fmt.Errorf("append operation log entry: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	rows, err := l.db.Query(
		`SELECT id, at, op, actor, branch, path, outcome, err_kind,
		        duration_ms, detail
		 FROM operation_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query operation log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			atMillis   int64
			durMillis  int64
			outcomeStr string
		)
		err := rows.Scan(&e.ID, &atMillis, &e.Op, &e.Actor, &e.Branch,
			&e.Path, &outcomeStr, &e.ErrKind, &durMillis, &e.Detail)
		if err != nil {
			return nil, fmt.Errorf("scan operation log entry: %w", err)
		}
		e.At = time.UnixMilli(atMillis)
		e.Duration = time.Duration(durMillis) * time.Millisecond
		e.Outcome = Outcome(outcomeStr)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
