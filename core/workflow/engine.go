// Package workflow is the engine core: draft branch lifecycle, atomic
// commits, the publish state machine with dry-run conflict detection, and
// three-way conflict resolution.
//
// All mutating sequences against the shared repository (checkout, merge,
// commit) serialize behind one repository-wide lock held by the Engine.
// Conflict scans populate a short-TTL cache that readers consult without
// taking the repository lock.
package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adalundhe/inkwell/core/oplog"
	"github.com/adalundhe/inkwell/core/repo"
	"github.com/adalundhe/inkwell/core/snapshot"
	"github.com/adalundhe/inkwell/core/wherr"
)

// Pusher uploads a branch to the remote copy of history. The remote sync
// service implements it; publish uses it when auto-push is requested.
type Pusher interface {
	Push(ctx context.Context, branch string) error
}

// Options tunes an Engine.
type Options struct {
	// MainBranch is the canonical published branch. Defaults to "main".
	MainBranch string

	// ConflictCacheTTL bounds how long a conflict scan is served from
	// cache. Defaults to two minutes.
	ConflictCacheTTL time.Duration

	// Pusher pushes after a publish with autoPush. Optional.
	Pusher Pusher
}

// Engine owns the canonical repository and serializes every mutation of it.
// Construct one per process with NewEngine; it holds an injected repository
// handle, never ambient global state.
type Engine struct {
	repo   *repo.Repo
	mu     *sync.Mutex // repository-wide lock, shared with the sync service
	log    *oplog.Log
	snaps  *snapshot.Writer
	pusher Pusher
	main   string
	cache  *conflictCache
}

// NewEngine constructs the engine around an open repository. lock is the
// repository-wide mutex every mutating sequence (checkout+merge+commit)
// serializes behind; the remote sync service shares the same lock. A nil
// lock gets a private one.
func NewEngine(r *repo.Repo, lock *sync.Mutex, log *oplog.Log, snaps *snapshot.Writer, opts Options) *Engine {
	if opts.MainBranch == "" {
		opts.MainBranch = "main"
	}
	if opts.ConflictCacheTTL <= 0 {
		opts.ConflictCacheTTL = 2 * time.Minute
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}

	return &Engine{
		repo:   r,
		mu:     lock,
		log:    log,
		snaps:  snaps,
		pusher: opts.Pusher,
		main:   opts.MainBranch,
		cache:  newConflictCache(opts.ConflictCacheTTL),
	}
}

// MainBranch returns the canonical branch name.
func (e *Engine) MainBranch() string { return e.main }

// Snapshots returns the snapshot writer the engine publishes through.
func (e *Engine) Snapshots() *snapshot.Writer { return e.snaps }

// record appends an operation log entry for a mutating call. It never fails
// the operation it describes; a ledger write error is only logged.
func (e *Engine) record(op, actor, branch, path string, start time.Time, opErr error, detail string) {
	if e.log == nil {
		return
	}

	entry := oplog.Entry{
		At:       start,
		Op:       op,
		Actor:    actor,
		Branch:   branch,
		Path:     path,
		Outcome:  outcomeOf(opErr),
		ErrKind:  wherr.Kind(opErr),
		Duration: time.Since(start),
		Detail:   detail,
	}

	if err := e.log.Append(entry); err != nil {
		slog.Error("operation log append failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
	}
}

// outcomeOf classifies an operation error into a ledger outcome. Conflicts
// are an expected workflow result, not failures.
func outcomeOf(err error) oplog.Outcome {
	switch {
	case err == nil:
		return oplog.OutcomeOK
	case wherr.IsConflict(err):
		return oplog.OutcomeConflict
	default:
		return oplog.OutcomeError
	}
}
