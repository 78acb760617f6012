// Package editcontext tracks which draft branches are referenced by a live
// editing session. The rows are written by the editor layer; the engine
// only consults them. The cleanup janitor never deletes a branch referenced
// by an active context, regardless of its age.
package editcontext

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Ref correlates an actor with a draft branch and the file being edited.
type Ref struct {
	Owner      string
	Branch     string
	Path       string
	LastActive time.Time
	Active     bool
}

// Source is the read side the cleanup janitor depends on.
type Source interface {
	// ActiveBranches returns the branch names referenced by at least one
	// active context.
	ActiveBranches() (map[string]bool, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS edit_contexts (
	branch      TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	path        TEXT NOT NULL DEFAULT '',
	last_active INTEGER NOT NULL,
	active      INTEGER NOT NULL DEFAULT 1
);
`

// Store is the sqlite-backed implementation of Source, plus the write
// operations the editor layer calls through the boundary contract.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the store inside the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open edit context store: %w", err)
	}
	return OpenDB(db)
}

// OpenDB wraps an existing database handle, creating the schema if needed.
func OpenDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create edit context schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Touch records activity on a branch, creating or reactivating its context.
func (s *Store) Touch(owner, branch, path string) error {
	_, err := s.db.Exec(
		`INSERT INTO edit_contexts (branch, owner, path, last_active, active)
		 VALUES (?, ?, ?, ?, 1)
		 ON CONFLICT(branch) DO UPDATE SET
		   owner = excluded.owner,
		   path = excluded.path,
		   last_active = excluded.last_active,
		   active = 1`,
		branch, owner, path, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("touch edit context: %w", err)
	}
	return nil
}

// Deactivate marks a branch's context inactive, releasing it for cleanup.
func (s *Store) Deactivate(branch string) error {
	_, err := s.db.Exec(
		`UPDATE edit_contexts SET active = 0 WHERE branch = ?`, branch)
	if err != nil {
		return fmt.Errorf("deactivate edit context: %w", err)
	}
	return nil
}

// Remove deletes a branch's context row entirely.
func (s *Store) Remove(branch string) error {
	_, err := s.db.Exec(
		`DELETE FROM edit_contexts WHERE branch = ?`, branch)
	if err != nil {
		return fmt.Errorf("remove edit context: %w", err)
	}
	return nil
}

// ActiveBranches returns the branch names with an active context.
func (s *Store) ActiveBranches() (map[string]bool, error) {
	rows, err := s.db.Query(
		`SELECT branch FROM edit_contexts WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("query edit contexts: %w", err)
	}
	defer rows.Close()

	active := make(map[string]bool)
	for rows.Next() {
		var branch string
		if err := rows.Scan(&branch); err != nil {
			return nil, fmt.Errorf("scan edit context: %w", err)
		}
		active[branch] = true
	}

	return active, rows.Err()
}
