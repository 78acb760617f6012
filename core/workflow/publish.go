package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adalundhe/inkwell/core/wherr"
)

// State is a position in the publish state machine:
//
//	DRAFTING → DRY_RUN → {MERGED, CONFLICTED}
//	CONFLICTED → DRY_RUN   (after a resolution commit)
//	MERGED → PUSHED (optional) → ARCHIVED
type State string

const (
	StateDrafting   State = "DRAFTING"
	StateDryRun     State = "DRY_RUN"
	StateMerged     State = "MERGED"
	StateConflicted State = "CONFLICTED"
	StatePushed     State = "PUSHED"
	StateArchived   State = "ARCHIVED"
)

// Result reports the outcome of a publish or resolve call.
type Result struct {
	State     State
	Merged    bool
	CommitID  string
	Pushed    bool
	Conflicts []wherr.ConflictRecord
}

// Publish merges a draft into main if and only if a non-destructive merge
// simulation finds no conflicts.
//
// On a clean simulation it performs the real merge, regenerates main's
// snapshot, optionally pushes, deletes the draft, and returns an ARCHIVED
// result. If the simulation reports conflicts the draft is left intact,
// nothing is mutated, and a ConflictError carrying one record per
// conflicting path is returned alongside a CONFLICTED result.
func (e *Engine) Publish(ctx context.Context, branch string, autoPush bool) (*Result, error) {
	start := time.Now()

	result, err := e.publish(ctx, branch, autoPush)
	e.record("publish", "", branch, "", start, err, string(result.State))
	return result, err
}

func (e *Engine) publish(ctx context.Context, branch string, autoPush bool) (*Result, error) {
	if branch == e.main {
		return &Result{State: StateDrafting},
			wherr.NewValidationError("branch", branch, "main cannot be published onto itself")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.repo.BranchExists(branch) {
		return &Result{State: StateDrafting}, wherr.ErrBranchNotFound
	}

	// Dry run: detection must be side-effect-free so it can run
	// opportunistically. Only a confirmed-clean merge mutates main.
	records, err := e.repo.DryRunMerge(e.main, branch)
	if err != nil {
		return &Result{State: StateDryRun}, err
	}
	if len(records) > 0 {
		return &Result{State: StateConflicted, Conflicts: records},
			wherr.NewConflictError(branch, records)
	}

	return e.completeMerge(ctx, branch, autoPush)
}

// completeMerge performs the real merge and the post-merge steps: snapshot,
// optional push, draft retirement.
func (e *Engine) completeMerge(ctx context.Context, branch string, autoPush bool) (*Result, error) {
	mergeID, err := e.repo.Merge(e.main, branch,
		fmt.Sprintf("publish %s", branch))
	if err != nil {
		if wherr.IsConflict(err) {
			return &Result{State: StateConflicted, Conflicts: wherr.ConflictsFrom(err)}, err
		}
		return &Result{State: StateDryRun}, err
	}

	result := &Result{State: StateMerged, Merged: true, CommitID: mergeID}
	e.cache.Invalidate()

	// The merge is canonical from here on. Snapshot and push failures are
	// reported but never unwind it; both are rebuildable/retryable.
	if err := e.snaps.Write(e.main); err != nil {
		slog.Error("snapshot after publish failed",
			slog.String("branch", branch),
			slog.String("error", err.Error()))
	}

	if autoPush && e.pusher != nil {
		if err := e.pusher.Push(ctx, e.main); err != nil {
			slog.Warn("push after publish failed",
				slog.String("branch", branch),
				slog.String("error", err.Error()))
		} else {
			result.Pushed = true
			result.State = StatePushed
		}
	}

	if err := e.retireDraft(branch); err != nil {
		return result, err
	}

	result.State = StateArchived
	return result, nil
}

// retireDraft deletes a published draft's branch and snapshot, if any.
func (e *Engine) retireDraft(branch string) error {
	if err := e.releaseIfCheckedOut(branch); err != nil {
		return err
	}
	if err := e.repo.DeleteBranch(branch); err != nil {
		return err
	}

	if err := e.snaps.Remove(branch); err != nil {
		slog.Warn("draft snapshot removal failed",
			slog.String("branch", branch),
			slog.String("error", err.Error()))
	}
	return nil
}
