// Package wherr defines the workflow engine's error taxonomy.
// Low-level VCS and transport failures are translated into these types at
// the repository boundary; callers above that boundary only ever see this
// taxonomy and can branch on it with errors.Is/errors.As.
package wherr

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrBranchNotFound indicates the named branch does not exist.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrGitNotInstalled indicates the git binary is not in PATH.
	ErrGitNotInstalled = errors.New("git is not installed or not in PATH")

	// ErrRemoteUnreachable indicates the remote could not be contacted.
	ErrRemoteUnreachable = errors.New("remote unreachable")

	// ErrRemoteAuth indicates the remote rejected our credentials.
	ErrRemoteAuth = errors.New("remote authentication failed")

	// ErrDiverged indicates local and remote histories have diverged and a
	// pull is required before pushing.
	ErrDiverged = errors.New("branch has diverged from remote")

	// ErrStorageExhausted indicates the underlying storage is full.
	ErrStorageExhausted = errors.New("storage exhausted")

	// ErrNothingToCommit indicates the content to commit is already at the
	// branch tip. Retried commits hit this; callers treat it as success.
	ErrNothingToCommit = errors.New("nothing to commit")
)

// =============================================================================
// RepositoryError
// =============================================================================

// RepositoryError is the generic VCS failure: something went wrong below the
// engine that does not fit a more specific type.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("repository error: %v", e.Err)
	}
	return fmt.Sprintf("repository error in %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// NewRepositoryError wraps a low-level failure with the operation it
// occurred in.
func NewRepositoryError(op string, err error) *RepositoryError {
	return &RepositoryError{Op: op, Err: err}
}

// =============================================================================
// ValidationError
// =============================================================================

// ValidationError indicates a malformed input: bad branch name, unsafe file
// path, empty content where content is required.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// =============================================================================
// ConflictError
// =============================================================================

// ConflictKind classifies how a file conflicts between a draft and main.
type ConflictKind string

const (
	// ConflictContent means both sides changed the same file content.
	ConflictContent ConflictKind = "content"
	// ConflictDelete means one side deleted a file the other modified.
	ConflictDelete ConflictKind = "delete"
	// ConflictRename means one side renamed a file the other touched.
	ConflictRename ConflictKind = "rename"
)

// ConflictRecord describes one conflicting file between a draft branch and
// main. It is recomputed on demand and never persisted.
type ConflictRecord struct {
	Branch string       `json:"branch"`
	Path   string       `json:"path"`
	Kind   ConflictKind `json:"kind"`
}

// ConflictError reports that a merge simulation found conflicts. It is an
// expected workflow outcome, not a fault: callers use it to start the
// resolution flow rather than rendering a failure.
type ConflictError struct {
	Branch  string
	Records []ConflictRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge of %s conflicts in %d file(s)", e.Branch, len(e.Records))
}

// NewConflictError constructs a ConflictError for a branch.
func NewConflictError(branch string, records []ConflictRecord) *ConflictError {
	return &ConflictError{Branch: branch, Records: records}
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// ConflictsFrom extracts the conflict records from err, if any.
func ConflictsFrom(err error) []ConflictRecord {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Records
	}
	return nil
}

// =============================================================================
// RemoteConflictError
// =============================================================================

// RemoteConflictError indicates a pull's merge conflicted with local history.
// The merge is always aborted before this is returned; local state is
// untouched.
type RemoteConflictError struct {
	Files []string
}

func (e *RemoteConflictError) Error() string {
	return fmt.Sprintf("remote merge conflicts in %d file(s)", len(e.Files))
}

// =============================================================================
// RateLimitedError
// =============================================================================

// RateLimitedError indicates a webhook trigger arrived inside the rate
// window. RetryAfter tells the caller when the next trigger will be honored.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}
