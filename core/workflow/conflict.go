package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/adalundhe/inkwell/core/repo"
	"github.com/adalundhe/inkwell/core/wherr"
)

// =============================================================================
// Conflict Cache
// =============================================================================

// scanCacheKey is the single key under which a full conflict scan is
// cached. The scan is O(drafts) merge simulations, so requests read the
// cache and only the off-path scanner repopulates it.
const scanCacheKey = "scan"

// conflictCache holds the last conflict scan with a short TTL. Any commit,
// publish, or external ref movement invalidates it.
type conflictCache struct {
	lru *expirable.LRU[string, []wherr.ConflictRecord]
}

func newConflictCache(ttl time.Duration) *conflictCache {
	return &conflictCache{
		lru: expirable.NewLRU[string, []wherr.ConflictRecord](1, nil, ttl),
	}
}

func (c *conflictCache) get() ([]wherr.ConflictRecord, bool) {
	return c.lru.Get(scanCacheKey)
}

func (c *conflictCache) put(records []wherr.ConflictRecord) {
	c.lru.Add(scanCacheKey, records)
}

// Invalidate drops the cached scan.
func (c *conflictCache) Invalidate() {
	c.lru.Purge()
}

// InvalidateConflicts drops the cached conflict scan. The ref watcher calls
// this when branch refs move outside engine calls.
func (e *Engine) InvalidateConflicts() {
	e.cache.Invalidate()
}

// =============================================================================
// Conflicts
// =============================================================================

// Conflicts enumerates every draft branch that currently conflicts with
// main. The bool reports whether the result came from cache; an empty slice
// with no error means no draft conflicts.
func (e *Engine) Conflicts() ([]wherr.ConflictRecord, bool, error) {
	if records, ok := e.cache.get(); ok {
		return records, true, nil
	}

	records, err := e.scanConflicts()
	if err != nil {
		return nil, false, err
	}

	e.cache.put(records)
	return records, false, nil
}

// RefreshConflicts recomputes the conflict scan and repopulates the cache
// whether or not the cached entry is still live. The serve scheduler runs
// this periodically so Conflicts reads stay on the cache.
func (e *Engine) RefreshConflicts() error {
	records, err := e.scanConflicts()
	if err != nil {
		return err
	}

	e.cache.put(records)
	return nil
}

// scanConflicts dry-run-merges every draft against main under the
// repository lock and aggregates the results.
func (e *Engine) scanConflicts() ([]wherr.ConflictRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	drafts, err := e.draftBranches()
	if err != nil {
		return nil, err
	}

	records := []wherr.ConflictRecord{}
	for _, draft := range drafts {
		found, err := e.repo.DryRunMerge(e.main, draft)
		if err != nil {
			return nil, err
		}
		records = append(records, found...)
	}

	return records, nil
}

// =============================================================================
// ConflictVersions
// =============================================================================

// Versions carries the three sides of a conflicted file: the content at the
// nearest common ancestor of draft and main (base), at main's tip (theirs),
// and at the draft's tip (ours). A file absent at any point yields empty
// content rather than an error.
type Versions struct {
	Base   []byte
	Theirs []byte
	Ours   []byte
}

// ConflictVersions extracts the three-way comparison for one conflicted
// file on a draft branch.
func (e *Engine) ConflictVersions(branch, path string) (*Versions, error) {
	if err := validateFilePath(path); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.repo.BranchExists(branch) {
		return nil, wherr.ErrBranchNotFound
	}

	base, err := e.repo.MergeBase(e.main, branch)
	if err != nil {
		return nil, err
	}
	mainTip, err := e.repo.BranchTip(e.main)
	if err != nil {
		return nil, err
	}
	draftTip, err := e.repo.BranchTip(branch)
	if err != nil {
		return nil, err
	}

	return e.readVersions(path, base, mainTip, draftTip)
}

// readVersions reads the file content at the three comparison points.
func (e *Engine) readVersions(path, baseHash, theirsHash, oursHash string) (*Versions, error) {
	baseContent, err := e.repo.FileAt(baseHash, path)
	if err != nil {
		return nil, err
	}
	theirsContent, err := e.repo.FileAt(theirsHash, path)
	if err != nil {
		return nil, err
	}
	oursContent, err := e.repo.FileAt(oursHash, path)
	if err != nil {
		return nil, err
	}

	return &Versions{
		Base:   baseContent,
		Theirs: theirsContent,
		Ours:   oursContent,
	}, nil
}

// =============================================================================
// ResolveConflict
// =============================================================================

// resolutionPrefix marks resolution commits on a draft. The paths named in
// these messages identify files whose draft-side content is a manual merge
// and may be taken as-is when completing the resolution merge.
const resolutionPrefix = "resolve conflict in "

// ResolveConflict applies a manually merged version of one conflicted file:
// it commits the resolution onto the draft, then merges main into the draft
// with every resolved path staged from its resolution, and finally re-runs
// publish. Remaining conflicts (a multi-file conflict only partially
// addressed) are returned in the result rather than as a failure:
// resolution is idempotent and retryable one file at a time.
func (e *Engine) ResolveConflict(ctx context.Context, branch, path string, content []byte, author repo.Author, isBinary bool) (*Result, error) {
	start := time.Now()

	result, err := e.resolveConflict(ctx, branch, path, content, author, isBinary)
	e.record("resolve_conflict", author.Name, branch, path, start, err, "")
	return result, err
}

func (e *Engine) resolveConflict(ctx context.Context, branch, path string, content []byte, author repo.Author, isBinary bool) (*Result, error) {
	if _, err := e.commit(branch, path, content, resolutionPrefix+path, author, isBinary); err != nil {
		return nil, err
	}

	merged, remaining, err := e.completeResolution(branch)
	if err != nil {
		return nil, err
	}
	if !merged {
		// Partial resolutions are expected; hand back the updated record
		// list so the caller can continue file by file.
		return &Result{State: StateConflicted, Conflicts: remaining}, nil
	}

	return e.publish(ctx, branch, false)
}

// completeResolution merges main into the draft so the resolution survives
// the merge back. Prior per-file resolutions on the draft are staged too;
// a fully resolved draft descends from main afterwards and publishes
// cleanly.
func (e *Engine) completeResolution(branch string) (bool, []wherr.ConflictRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resolutions, err := e.resolvedContents(branch)
	if err != nil {
		return false, nil, err
	}

	merged, remaining, err := e.repo.ResolveMerge(branch, e.main,
		fmt.Sprintf("merge %s into %s", e.main, branch), resolutions)
	if err != nil {
		return false, nil, err
	}
	if merged {
		e.cache.Invalidate()
	}
	return merged, remaining, nil
}

// resolvedContents maps each path with a resolution commit on the draft to
// the draft's current content for it.
func (e *Engine) resolvedContents(branch string) (map[string][]byte, error) {
	base, err := e.repo.MergeBase(e.main, branch)
	if err != nil {
		return nil, err
	}
	commits, err := e.repo.CommitsSince(branch, base)
	if err != nil {
		return nil, err
	}
	tip, err := e.repo.BranchTip(branch)
	if err != nil {
		return nil, err
	}

	resolutions := make(map[string][]byte)
	for _, info := range commits {
		message := strings.TrimSpace(info.Message)
		if !strings.HasPrefix(message, resolutionPrefix) {
			continue
		}
		path := strings.TrimSpace(strings.TrimPrefix(message, resolutionPrefix))
		if _, seen := resolutions[path]; seen {
			continue
		}
		content, err := e.repo.FileAt(tip, path)
		if err != nil {
			return nil, err
		}
		resolutions[path] = content
	}

	return resolutions, nil
}
