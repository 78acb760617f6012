package repo

import (
	"regexp"
	"sort"
	"strings"

	"github.com/adalundhe/inkwell/core/wherr"
)

// conflictLine matches the per-file conflict lines git prints during a
// failed merge, e.g. "CONFLICT (content): Merge conflict in docs/a.md".
var conflictLine = regexp.MustCompile(`^CONFLICT \(([^)]+)\): (.+)$`)

// mergeConflictIn strips the "Merge conflict in " prefix from content
// conflict descriptions.
const mergeConflictIn = "Merge conflict in "

// =============================================================================
// Dry-Run Merge
// =============================================================================

// DryRunMerge simulates merging source into target and reports the files
// that would conflict. The simulation is strictly non-destructive: on every
// exit path the merge is aborted and the working tree reset, so target's tip
// and the worktree are restored to their pre-call state.
//
// A nil, nil return means the merge would apply cleanly.
func (r *Repo) DryRunMerge(target, source string) ([]wherr.ConflictRecord, error) {
	if !r.BranchExists(source) {
		return nil, wherr.ErrBranchNotFound
	}

	if err := r.Checkout(target); err != nil {
		return nil, err
	}

	out, mergeErr := r.runGit("merge", "--no-commit", "--no-ff", source)

	// Undo unconditionally. A clean --no-commit merge leaves MERGE_HEAD and
	// staged changes; a conflicted one leaves unmerged entries. Abort covers
	// both, reset covers the no-op "already up to date" case where abort
	// has nothing to do.
	r.abortMerge()

	if mergeErr == nil {
		return nil, nil
	}

	records := parseConflicts(source, out)
	if len(records) > 0 {
		return records, nil
	}

	return nil, mergeErr
}

// abortMerge unwinds an in-progress or staged merge. Errors are ignored:
// there may be no merge to abort, and the hard reset restores the tip state
// either way.
func (r *Repo) abortMerge() {
	r.runGit("merge", "--abort") //nolint:errcheck
	_ = r.ResetHard()
}

// parseConflicts extracts one ConflictRecord per conflicting path from
// git's merge output.
func parseConflicts(branch, mergeOutput string) []wherr.ConflictRecord {
	byPath := make(map[string]wherr.ConflictKind)

	for _, line := range strings.Split(mergeOutput, "\n") {
		m := conflictLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}

		kind := classifyConflict(m[1])
		path := conflictPath(m[1], m[2])
		if path == "" {
			continue
		}

		// A rename label wins over a content one for the same path.
		if existing, ok := byPath[path]; !ok || rankKind(kind) > rankKind(existing) {
			byPath[path] = kind
		}
	}

	return recordsFor(branch, byPath)
}

// classifyConflict maps git's conflict label to a ConflictKind.
func classifyConflict(label string) wherr.ConflictKind {
	switch {
	case strings.Contains(label, "rename"):
		return wherr.ConflictRename
	case strings.Contains(label, "delete"):
		return wherr.ConflictDelete
	default:
		// content, add/add, file/directory all reduce to a content-level
		// disagreement for resolution purposes.
		return wherr.ConflictContent
	}
}

// conflictPath extracts the conflicting file path from a conflict line's
// description.
func conflictPath(label, description string) string {
	if strings.HasPrefix(description, mergeConflictIn) {
		return strings.TrimSpace(strings.TrimPrefix(description, mergeConflictIn))
	}

	// Delete and rename conflicts describe the path inline, e.g.
	// "docs/a.md deleted in HEAD and modified in draft-7-abc...".
	fields := strings.Fields(description)
	if len(fields) > 0 {
		return strings.TrimSuffix(fields[0], ":")
	}
	return ""
}

// rankKind orders conflict kinds by specificity.
func rankKind(k wherr.ConflictKind) int {
	switch k {
	case wherr.ConflictRename:
		return 2
	case wherr.ConflictDelete:
		return 1
	default:
		return 0
	}
}

// recordsFor materializes the path->kind map into sorted records.
func recordsFor(branch string, byPath map[string]wherr.ConflictKind) []wherr.ConflictRecord {
	var records []wherr.ConflictRecord
	for path, kind := range byPath {
		records = append(records, wherr.ConflictRecord{
			Branch: branch,
			Path:   path,
			Kind:   kind,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Path < records[j].Path
	})
	return records
}

// =============================================================================
// Resolution Merge
// =============================================================================

// ResolveMerge merges source into target, staging the supplied per-path
// resolutions over any conflicting files. When every conflicting path has a
// resolution the merge is committed on target and true is returned. When
// paths remain without a resolution the merge is aborted, target is left
// unchanged, and the unresolved records are returned with a false flag.
func (r *Repo) ResolveMerge(target, source, message string, resolutions map[string][]byte) (bool, []wherr.ConflictRecord, error) {
	if err := r.Checkout(target); err != nil {
		return false, nil, err
	}

	out, mergeErr := r.runGit("merge", "--no-commit", "--no-ff", source)
	if mergeErr == nil {
		if strings.Contains(out, "Already up to date") {
			return true, nil, nil
		}
		return r.commitMerge(message)
	}

	records := parseConflicts(target, out)
	if len(records) == 0 {
		r.abortMerge()
		return false, nil, mergeErr
	}

	remaining, err := r.stageResolutions(records, resolutions)
	if err != nil {
		r.abortMerge()
		return false, nil, err
	}
	if len(remaining) > 0 {
		r.abortMerge()
		return false, remaining, nil
	}

	return r.commitMerge(message)
}

// stageResolutions writes and stages each resolved conflicting path,
// returning the records no resolution covers.
func (r *Repo) stageResolutions(records []wherr.ConflictRecord, resolutions map[string][]byte) ([]wherr.ConflictRecord, error) {
	var remaining []wherr.ConflictRecord
	for _, rec := range records {
		content, ok := resolutions[rec.Path]
		if !ok {
			remaining = append(remaining, rec)
			continue
		}
		if err := r.WriteFile(rec.Path, content); err != nil {
			return nil, err
		}
		if _, err := r.runGit("add", "--", rec.Path); err != nil {
			return nil, err
		}
	}
	return remaining, nil
}

// commitMerge finalizes a staged --no-commit merge.
func (r *Repo) commitMerge(message string) (bool, []wherr.ConflictRecord, error) {
	if _, err := r.runGit("commit", "-m", message); err != nil {
		r.abortMerge()
		return false, nil, err
	}
	return true, nil, nil
}

// =============================================================================
// Confirmed Merge
// =============================================================================

// Merge merges source into target with a merge commit and returns the new
// tip hash. Callers run DryRunMerge first; if this merge conflicts anyway
// (the repository changed between simulation and merge), it is aborted and
// a ConflictError returned, leaving target unchanged.
func (r *Repo) Merge(target, source, message string) (string, error) {
	if err := r.Checkout(target); err != nil {
		return "", err
	}

	out, err := r.runGit("merge", "--no-ff", "-m", message, source)
	if err != nil {
		records := parseConflicts(source, out)
		r.abortMerge()
		if len(records) > 0 {
			return "", wherr.NewConflictError(source, records)
		}
		return "", err
	}

	return r.Head()
}

// MergeRef merges an arbitrary ref (typically a remote-tracking ref) into
// the checked-out branch, allowing fast-forward. On conflict the merge is
// aborted and a RemoteConflictError carrying the conflicting paths is
// returned; local state is untouched.
func (r *Repo) MergeRef(ref string) error {
	out, err := r.runGit("merge", ref)
	if err == nil {
		return nil
	}

	records := parseConflicts(ref, out)
	r.abortMerge()
	if len(records) > 0 {
		files := make([]string, len(records))
		for i, rec := range records {
			files[i] = rec.Path
		}
		return &wherr.RemoteConflictError{Files: files}
	}

	return err
}
