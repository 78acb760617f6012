package workflow

import (
	"context"
	"os/exec"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/inkwell/core/oplog"
	"github.com/adalundhe/inkwell/core/repo"
	"github.com/adalundhe/inkwell/core/snapshot"
	"github.com/adalundhe/inkwell/core/wherr"
)

// =============================================================================
// Test Fixtures
// =============================================================================

func testAuthor() repo.Author {
	return repo.Author{Name: "Test Writer", Email: "writer@example.com"}
}

// newTestEngine wires an engine over a throwaway repository, ledger, and
// snapshot directory.
func newTestEngine(t *testing.T) (*Engine, *repo.Repo) {
	t.Helper()
	return newTestEngineWith(t, Options{})
}

func newTestEngineWith(t *testing.T, opts Options) (*Engine, *repo.Repo) {
	t.Helper()

	dir := t.TempDir()

	r, err := repo.Init(filepath.Join(dir, "content"), "main", testAuthor())
	require.NoError(t, err)

	ledger, err := oplog.Open(filepath.Join(dir, "inkwell.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	snaps, err := snapshot.NewWriter(r, filepath.Join(dir, "snapshots"))
	require.NoError(t, err)

	return NewEngine(r, nil, ledger, snaps, opts), r
}

// stubPusher records push calls and fails with err when set.
type stubPusher struct {
	err      error
	branches []string
}

func (p *stubPusher) Push(ctx context.Context, branch string) error {
	p.branches = append(p.branches, branch)
	return p.err
}

// seedMain puts content on main directly through the repository, the way
// history arrives via merge in production.
func seedMain(t *testing.T, r *repo.Repo, path, content string) {
	t.Helper()

	require.NoError(t, r.Checkout("main"))
	require.NoError(t, r.WriteFile(path, []byte(content)))
	_, err := r.Commit(path, "seed "+path, testAuthor())
	require.NoError(t, err)
}

func requireGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// =============================================================================
// Draft Lifecycle
// =============================================================================

func TestCreateDraftNameAndFork(t *testing.T) {
	engine, r := newTestEngine(t)

	name, err := engine.CreateDraft("42")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^draft-42-[0-9a-f]{8}$`), name)

	mainTip, err := r.BranchTip("main")
	require.NoError(t, err)
	draftTip, err := r.BranchTip(name)
	require.NoError(t, err)
	assert.Equal(t, mainTip, draftTip)
}

func TestCreateDraftRejectsMalformedOwner(t *testing.T) {
	engine, _ := newTestEngine(t)

	for _, owner := range []string{"", "bad owner", "no/slashes", "no*globs"} {
		_, err := engine.CreateDraft(owner)

		var ve *wherr.ValidationError
		assert.ErrorAs(t, err, &ve, "owner %q", owner)
	}
}

func TestCreateThenDeleteLeavesMainUntouched(t *testing.T) {
	engine, r := newTestEngine(t)

	before, err := r.BranchTip("main")
	require.NoError(t, err)

	name, err := engine.CreateDraft("42")
	require.NoError(t, err)
	require.NoError(t, engine.DeleteDraft(name))

	after, err := r.BranchTip("main")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, r.BranchExists(name))
}

func TestDeleteDraftRefusesNonDraftNames(t *testing.T) {
	engine, r := newTestEngine(t)

	for _, name := range []string{"main", "release", "draft-42", ""} {
		err := engine.DeleteDraft(name)

		var ve *wherr.ValidationError
		assert.ErrorAs(t, err, &ve, "name %q", name)
	}

	assert.True(t, r.BranchExists("main"))
}

func TestListBranchesFiltersByPattern(t *testing.T) {
	engine, _ := newTestEngine(t)

	mine, err := engine.CreateDraft("42")
	require.NoError(t, err)
	_, err = engine.CreateDraft("7")
	require.NoError(t, err)

	matched, err := engine.ListBranches("draft-42-*")
	require.NoError(t, err)
	assert.Equal(t, []string{mine}, matched)

	all, err := engine.ListBranches("")
	require.NoError(t, err)
	assert.Len(t, all, 3) // main + two drafts
}

// =============================================================================
// Commit
// =============================================================================

func TestCommitOnDraft(t *testing.T) {
	engine, r := newTestEngine(t)

	name, err := engine.CreateDraft("42")
	require.NoError(t, err)

	commitID, err := engine.Commit(name, "docs/a.md", []byte("Hello"),
		"init", testAuthor(), false)
	require.NoError(t, err)

	content, err := r.FileAt(commitID, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(content))
}

func TestCommitIdenticalContentReturnsExistingTip(t *testing.T) {
	engine, _ := newTestEngine(t)

	name, err := engine.CreateDraft("42")
	require.NoError(t, err)

	first, err := engine.Commit(name, "docs/a.md", []byte("Hello"),
		"init", testAuthor(), false)
	require.NoError(t, err)

	// Re-sending the same bytes is a retry, not an error.
	second, err := engine.Commit(name, "docs/a.md", []byte("Hello"),
		"init", testAuthor(), false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCommitRejectsUnsafePaths(t *testing.T) {
	engine, _ := newTestEngine(t)

	name, err := engine.CreateDraft("42")
	require.NoError(t, err)

	for _, path := range []string{"", "../evil.md", "docs/../../evil.md", "/etc/passwd"} {
		_, err := engine.Commit(name, path, []byte("x"), "m", testAuthor(), false)

		var ve *wherr.ValidationError
		assert.ErrorAs(t, err, &ve, "path %q", path)
	}
}

func TestCommitRefusesMainDirectly(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Commit("main", "docs/a.md", []byte("x"), "m", testAuthor(), false)

	var ve *wherr.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCommitUnknownBranch(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Commit("draft-9-cafebabe", "docs/a.md", []byte("x"),
		"m", testAuthor(), false)
	assert.ErrorIs(t, err, wherr.ErrBranchNotFound)
}

func TestCommitBinaryRequiresStagedFile(t *testing.T) {
	engine, r := newTestEngine(t)

	name, err := engine.CreateDraft("42")
	require.NoError(t, err)

	before, err := r.BranchTip(name)
	require.NoError(t, err)

	_, err = engine.Commit(name, "img/logo.png", nil, "upload", testAuthor(), true)
	var ve *wherr.ValidationError
	require.ErrorAs(t, err, &ve)

	// The failed call leaves the branch exactly as before.
	after, err := r.BranchTip(name)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCommitFailureIsLogged(t *testing.T) {
	engine, _ := newTestEngine(t)

	name, err := engine.CreateDraft("42")
	require.NoError(t, err)

	_, err = engine.Commit(name, "../evil.md", []byte("x"), "m", testAuthor(), false)
	require.Error(t, err)

	entries, err := engine.log.Recent(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "commit", entries[0].Op)
	assert.Equal(t, oplog.OutcomeError, entries[0].Outcome)
	assert.Equal(t, "validation", entries[0].ErrKind)
}

// =============================================================================
// Publish
// =============================================================================

func TestPublishCleanDraft(t *testing.T) {
	requireGit(t)

	engine, r := newTestEngine(t)

	name, err := engine.CreateDraft("42")
	require.NoError(t, err)
	_, err = engine.Commit(name, "docs/a.md", []byte("Hello"), "init", testAuthor(), false)
	require.NoError(t, err)

	result, err := engine.Publish(context.Background(), name, false)
	require.NoError(t, err)
	assert.True(t, result.Merged)
	assert.Equal(t, StateArchived, result.State)

	// The draft is retired and main carries the content.
	assert.False(t, r.BranchExists(name))

	tip, err := r.BranchTip("main")
	require.NoError(t, err)
	content, err := r.FileAt(tip, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(content))

	// Main's snapshot was regenerated.
	data, err := engine.Snapshots().Read("main", "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(data))
}

func TestPublishDisjointDraftsBothMerge(t *testing.T) {
	requireGit(t)

	engine, _ := newTestEngine(t)

	first, err := engine.CreateDraft("1")
	require.NoError(t, err)
	second, err := engine.CreateDraft("2")
	require.NoError(t, err)

	_, err = engine.Commit(first, "docs/a.md", []byte("alpha"), "a", testAuthor(), false)
	require.NoError(t, err)
	_, err = engine.Commit(second, "docs/b.md", []byte("beta"), "b", testAuthor(), false)
	require.NoError(t, err)

	r1, err := engine.Publish(context.Background(), first, false)
	require.NoError(t, err)
	assert.True(t, r1.Merged)

	r2, err := engine.Publish(context.Background(), second, false)
	require.NoError(t, err)
	assert.True(t, r2.Merged)
}

func TestPublishConflictLeavesDraftIntact(t *testing.T) {
	requireGit(t)

	engine, r := newTestEngine(t)
	seedMain(t, r, "docs/a.md", "base")

	first, err := engine.CreateDraft("1")
	require.NoError(t, err)
	second, err := engine.CreateDraft("2")
	require.NoError(t, err)

	_, err = engine.Commit(first, "docs/a.md", []byte("version one"), "v1", testAuthor(), false)
	require.NoError(t, err)
	_, err = engine.Commit(second, "docs/a.md", []byte("version two"), "v2", testAuthor(), false)
	require.NoError(t, err)

	r1, err := engine.Publish(context.Background(), first, false)
	require.NoError(t, err)
	assert.True(t, r1.Merged)

	mainBefore, err := r.BranchTip("main")
	require.NoError(t, err)

	r2, err := engine.Publish(context.Background(), second, false)
	require.Error(t, err)
	assert.True(t, wherr.IsConflict(err))
	assert.Equal(t, StateConflicted, r2.State)
	require.Len(t, r2.Conflicts, 1)
	assert.Equal(t, "docs/a.md", r2.Conflicts[0].Path)
	assert.Equal(t, wherr.ConflictContent, r2.Conflicts[0].Kind)

	// Nothing mutated: the losing draft survives and main's tip is fixed.
	assert.True(t, r.BranchExists(second))
	mainAfter, err := r.BranchTip("main")
	require.NoError(t, err)
	assert.Equal(t, mainBefore, mainAfter)
}

func TestPublishMainRefused(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Publish(context.Background(), "main", false)

	var ve *wherr.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestPublishAutoPushReportsPushed(t *testing.T) {
	requireGit(t)

	pusher := &stubPusher{}
	engine, r := newTestEngineWith(t, Options{Pusher: pusher})

	seedMain(t, r, "docs/a.md", "base")
	name, err := engine.CreateDraft("1")
	require.NoError(t, err)
	_, err = engine.Commit(name, "docs/b.md", []byte("new"), "add", testAuthor(), false)
	require.NoError(t, err)

	result, err := engine.Publish(context.Background(), name, true)
	require.NoError(t, err)
	assert.True(t, result.Merged)
	assert.True(t, result.Pushed)
	assert.Equal(t, StateArchived, result.State)
	assert.Equal(t, []string{"main"}, pusher.branches)
}

func TestPublishSurvivesPushFailure(t *testing.T) {
	requireGit(t)

	pusher := &stubPusher{err: wherr.ErrRemoteUnreachable}
	engine, r := newTestEngineWith(t, Options{Pusher: pusher})

	seedMain(t, r, "docs/a.md", "base")
	name, err := engine.CreateDraft("1")
	require.NoError(t, err)
	_, err = engine.Commit(name, "docs/b.md", []byte("new"), "add", testAuthor(), false)
	require.NoError(t, err)

	// A failed push is retryable and must not unwind the merge.
	result, err := engine.Publish(context.Background(), name, true)
	require.NoError(t, err)
	assert.True(t, result.Merged)
	assert.False(t, result.Pushed)
	assert.Equal(t, StateArchived, result.State)

	tip, err := r.BranchTip("main")
	require.NoError(t, err)
	content, err := r.FileAt(tip, "docs/b.md")
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
}

// =============================================================================
// Conflict Versions and Resolution
// =============================================================================

// divergedDraft seeds main, forks a draft, and commits conflicting edits to
// docs/a.md on both sides. Returns the draft name.
func divergedDraft(t *testing.T, engine *Engine, r *repo.Repo) string {
	t.Helper()

	seedMain(t, r, "docs/a.md", "base")

	name, err := engine.CreateDraft("2")
	require.NoError(t, err)

	_, err = engine.Commit(name, "docs/a.md", []byte("draft version"), "d", testAuthor(), false)
	require.NoError(t, err)

	seedMain(t, r, "docs/a.md", "main version")
	return name
}

func TestConflictVersionsThreeWay(t *testing.T) {
	engine, r := newTestEngine(t)
	name := divergedDraft(t, engine, r)

	versions, err := engine.ConflictVersions(name, "docs/a.md")
	require.NoError(t, err)

	assert.Equal(t, "base", string(versions.Base))
	assert.Equal(t, "main version", string(versions.Theirs))
	assert.Equal(t, "draft version", string(versions.Ours))
}

func TestConflictVersionsAbsentFileIsEmpty(t *testing.T) {
	engine, r := newTestEngine(t)

	seedMain(t, r, "docs/a.md", "base")
	name, err := engine.CreateDraft("2")
	require.NoError(t, err)

	_, err = engine.Commit(name, "docs/new.md", []byte("fresh"), "add", testAuthor(), false)
	require.NoError(t, err)

	versions, err := engine.ConflictVersions(name, "docs/new.md")
	require.NoError(t, err)
	assert.Empty(t, versions.Base)
	assert.Empty(t, versions.Theirs)
	assert.Equal(t, "fresh", string(versions.Ours))
}

func TestResolveConflictMerges(t *testing.T) {
	requireGit(t)

	engine, r := newTestEngine(t)
	name := divergedDraft(t, engine, r)

	// Confirm the draft actually conflicts first.
	_, err := engine.Publish(context.Background(), name, false)
	require.True(t, wherr.IsConflict(err))

	result, err := engine.ResolveConflict(context.Background(), name,
		"docs/a.md", []byte("merged by hand"), testAuthor(), false)
	require.NoError(t, err)
	assert.True(t, result.Merged)
	assert.False(t, r.BranchExists(name))

	tip, err := r.BranchTip("main")
	require.NoError(t, err)
	content, err := r.FileAt(tip, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "merged by hand", string(content))
}

func TestResolveWithTheirsKeepsMainContent(t *testing.T) {
	requireGit(t)

	engine, r := newTestEngine(t)
	name := divergedDraft(t, engine, r)

	result, err := engine.ResolveConflict(context.Background(), name,
		"docs/a.md", []byte("main version"), testAuthor(), false)
	require.NoError(t, err)
	assert.True(t, result.Merged)

	tip, err := r.BranchTip("main")
	require.NoError(t, err)
	content, err := r.FileAt(tip, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "main version", string(content))
}

func TestResolvePartiallyReturnsRemainingConflicts(t *testing.T) {
	requireGit(t)

	engine, r := newTestEngine(t)

	seedMain(t, r, "docs/a.md", "base a")
	seedMain(t, r, "docs/b.md", "base b")

	name, err := engine.CreateDraft("2")
	require.NoError(t, err)
	_, err = engine.Commit(name, "docs/a.md", []byte("draft a"), "a", testAuthor(), false)
	require.NoError(t, err)
	_, err = engine.Commit(name, "docs/b.md", []byte("draft b"), "b", testAuthor(), false)
	require.NoError(t, err)

	seedMain(t, r, "docs/a.md", "main a")
	seedMain(t, r, "docs/b.md", "main b")

	// Resolving only docs/a.md leaves docs/b.md conflicted; that is a
	// retryable outcome, not an error.
	result, err := engine.ResolveConflict(context.Background(), name,
		"docs/a.md", []byte("merged a"), testAuthor(), false)
	require.NoError(t, err)
	assert.False(t, result.Merged)
	assert.Equal(t, StateConflicted, result.State)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "docs/b.md", result.Conflicts[0].Path)
	assert.True(t, r.BranchExists(name))

	// The second pass completes the merge.
	result, err = engine.ResolveConflict(context.Background(), name,
		"docs/b.md", []byte("merged b"), testAuthor(), false)
	require.NoError(t, err)
	assert.True(t, result.Merged)
	assert.False(t, r.BranchExists(name))
}

func TestResolveRetryWithIdenticalContentIsSafe(t *testing.T) {
	requireGit(t)

	engine, r := newTestEngine(t)

	seedMain(t, r, "docs/a.md", "base a")
	seedMain(t, r, "docs/b.md", "base b")

	name, err := engine.CreateDraft("2")
	require.NoError(t, err)
	_, err = engine.Commit(name, "docs/a.md", []byte("draft a"), "a", testAuthor(), false)
	require.NoError(t, err)
	_, err = engine.Commit(name, "docs/b.md", []byte("draft b"), "b", testAuthor(), false)
	require.NoError(t, err)

	seedMain(t, r, "docs/a.md", "main a")
	seedMain(t, r, "docs/b.md", "main b")

	_, err = engine.ResolveConflict(context.Background(), name,
		"docs/a.md", []byte("merged a"), testAuthor(), false)
	require.NoError(t, err)

	// Replaying the same resolution, byte for byte, must not fail on the
	// already-recorded commit; it reports the still-open conflicts again.
	result, err := engine.ResolveConflict(context.Background(), name,
		"docs/a.md", []byte("merged a"), testAuthor(), false)
	require.NoError(t, err)
	assert.Equal(t, StateConflicted, result.State)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "docs/b.md", result.Conflicts[0].Path)

	// The retry leaves the draft resolvable to completion.
	result, err = engine.ResolveConflict(context.Background(), name,
		"docs/b.md", []byte("merged b"), testAuthor(), false)
	require.NoError(t, err)
	assert.True(t, result.Merged)
}

// =============================================================================
// Conflict Scan Cache
// =============================================================================

func TestConflictsScanAndCache(t *testing.T) {
	requireGit(t)

	engine, r := newTestEngine(t)
	name := divergedDraft(t, engine, r)

	records, cached, err := engine.Conflicts()
	require.NoError(t, err)
	assert.False(t, cached)
	require.Len(t, records, 1)
	assert.Equal(t, name, records[0].Branch)
	assert.Equal(t, "docs/a.md", records[0].Path)

	_, cached, err = engine.Conflicts()
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestCommitInvalidatesConflictCache(t *testing.T) {
	requireGit(t)

	engine, r := newTestEngine(t)
	name := divergedDraft(t, engine, r)

	_, _, err := engine.Conflicts()
	require.NoError(t, err)

	_, err = engine.Commit(name, "docs/other.md", []byte("x"), "m", testAuthor(), false)
	require.NoError(t, err)

	_, cached, err := engine.Conflicts()
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestRefreshConflictsPrimesCache(t *testing.T) {
	requireGit(t)

	engine, r := newTestEngine(t)
	name := divergedDraft(t, engine, r)

	// A background refresh fills the cache so the next read never pays
	// for a scan.
	require.NoError(t, engine.RefreshConflicts())

	records, cached, err := engine.Conflicts()
	require.NoError(t, err)
	assert.True(t, cached)
	require.Len(t, records, 1)
	assert.Equal(t, name, records[0].Branch)

	// Refresh replaces a stale cached scan rather than skipping it.
	resolved, err := engine.ResolveConflict(context.Background(), name,
		"docs/a.md", []byte("merged"), testAuthor(), false)
	require.NoError(t, err)
	require.True(t, resolved.Merged)

	require.NoError(t, engine.RefreshConflicts())
	records, cached, err = engine.Conflicts()
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Empty(t, records)
}

func TestConflictsEmptyWhenNoDrafts(t *testing.T) {
	engine, _ := newTestEngine(t)

	records, cached, err := engine.Conflicts()
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Empty(t, records)
}
