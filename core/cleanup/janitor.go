// Package cleanup retires stale draft branches and keeps the snapshot tree
// consistent with the branch set.
package cleanup

import (
	"log/slog"
	"time"

	"github.com/adalundhe/inkwell/core/editcontext"
	"github.com/adalundhe/inkwell/core/repo"
	"github.com/adalundhe/inkwell/core/snapshot"
	"github.com/adalundhe/inkwell/core/workflow"
)

// Janitor deletes stale unreferenced drafts and rebuilds snapshots. All
// branch deletions go through the workflow engine so they serialize behind
// the repository lock and land in the operation log.
type Janitor struct {
	engine   *workflow.Engine
	repo     *repo.Repo
	snaps    *snapshot.Writer
	contexts editcontext.Source
}

// NewJanitor constructs a Janitor.
func NewJanitor(engine *workflow.Engine, r *repo.Repo, snaps *snapshot.Writer, contexts editcontext.Source) *Janitor {
	return &Janitor{
		engine:   engine,
		repo:     r,
		snaps:    snaps,
		contexts: contexts,
	}
}

// CleanupStale deletes every draft branch whose last commit is older than
// ageDays and which no active edit context references. A branch referenced
// by an active context is preserved regardless of age. Returns the names of
// the deleted branches.
func (j *Janitor) CleanupStale(ageDays int) ([]string, error) {
	active, err := j.contexts.ActiveBranches()
	if err != nil {
		return nil, err
	}

	drafts, err := j.engine.ListBranches("draft-*")
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().AddDate(0, 0, -ageDays)

	var removed []string
	for _, draft := range drafts {
		if !workflow.IsDraftName(draft) {
			continue
		}
		if active[draft] {
			continue
		}

		stale, err := j.isStale(draft, cutoff)
		if err != nil {
			slog.Warn("skipping draft with unreadable tip",
				slog.String("branch", draft),
				slog.String("error", err.Error()))
			continue
		}
		if !stale {
			continue
		}

		if err := j.retire(draft); err != nil {
			return removed, err
		}
		removed = append(removed, draft)
	}

	return removed, nil
}

// isStale reports whether a draft's last commit predates the cutoff.
func (j *Janitor) isStale(draft string, cutoff time.Time) (bool, error) {
	tipTime, err := j.repo.TipTime(draft)
	if err != nil {
		return false, err
	}
	return tipTime.Before(cutoff), nil
}

// retire deletes a stale draft's branch and snapshot.
func (j *Janitor) retire(draft string) error {
	if err := j.engine.DeleteDraft(draft); err != nil {
		return err
	}
	if err := j.snaps.Remove(draft); err != nil {
		slog.Warn("stale draft snapshot removal failed",
			slog.String("branch", draft),
			slog.String("error", err.Error()))
	}

	slog.Info("stale draft retired", slog.String("branch", draft))
	return nil
}

// FullRebuild regenerates the snapshot for main and for every draft with an
// active edit context, then deletes snapshot directories that no longer
// have a corresponding branch.
func (j *Janitor) FullRebuild() error {
	if err := j.snaps.Write(j.engine.MainBranch()); err != nil {
		return err
	}

	active, err := j.contexts.ActiveBranches()
	if err != nil {
		return err
	}

	for branch := range active {
		if !j.repo.BranchExists(branch) {
			continue
		}
		if err := j.snaps.Write(branch); err != nil {
			return err
		}
	}

	return j.pruneOrphans()
}

// pruneOrphans removes snapshots whose branch no longer exists.
func (j *Janitor) pruneOrphans() error {
	published, err := j.snaps.List()
	if err != nil {
		return err
	}

	for _, branch := range published {
		if j.repo.BranchExists(branch) {
			continue
		}
		if err := j.snaps.Remove(branch); err != nil {
			return err
		}
		slog.Info("orphaned snapshot removed", slog.String("branch", branch))
	}

	return nil
}
