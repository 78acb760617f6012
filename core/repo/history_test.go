package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileAtReturnsCommittedContent(t *testing.T) {
	r := initTestRepo(t)

	first := commitFile(t, r, "main", "docs/a.md", "v1", "first")
	second := commitFile(t, r, "main", "docs/a.md", "v2", "second")

	content, err := r.FileAt(first, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))

	content, err = r.FileAt(second, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
}

func TestFileAtAbsentFileYieldsEmptyContent(t *testing.T) {
	r := initTestRepo(t)
	tip := commitFile(t, r, "main", "docs/a.md", "v1", "first")

	content, err := r.FileAt(tip, "docs/missing.md")
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestMergeBaseIsForkPoint(t *testing.T) {
	r := initTestRepo(t)

	forkPoint := commitFile(t, r, "main", "docs/a.md", "base", "base")
	require.NoError(t, r.CreateBranch("draft-1-deadbeef", forkPoint))

	commitFile(t, r, "draft-1-deadbeef", "docs/a.md", "draft", "draft edit")
	commitFile(t, r, "main", "docs/a.md", "main", "main edit")

	base, err := r.MergeBase("main", "draft-1-deadbeef")
	require.NoError(t, err)
	assert.Equal(t, forkPoint, base)
}

func TestIsAncestor(t *testing.T) {
	r := initTestRepo(t)

	older := commitFile(t, r, "main", "docs/a.md", "v1", "first")
	newer := commitFile(t, r, "main", "docs/a.md", "v2", "second")

	ok, err := r.IsAncestor(older, newer)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsAncestor(newer, older)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryOfDerivesFileMetadata(t *testing.T) {
	r := initTestRepo(t)

	commitFile(t, r, "main", "docs/a.md", "v1", "first")

	require.NoError(t, r.WriteFile("docs/a.md", []byte("v2")))
	last, err := r.Commit("docs/a.md", "second",
		Author{Name: "Other Writer", Email: "other@example.com"})
	require.NoError(t, err)

	// An unrelated file must not count toward docs/a.md history.
	commitFile(t, r, "main", "docs/b.md", "other", "unrelated")

	history, err := r.HistoryOf("main", "docs/a.md")
	require.NoError(t, err)

	assert.Equal(t, 2, history.CommitCount)
	assert.Equal(t, last, history.LastCommit.Hash)
	assert.Equal(t, "Other Writer", history.LastCommit.Author)
	assert.Equal(t, []string{"Other Writer", "Test Writer"}, history.Contributors)
}

func TestChangedFilesBetweenCommits(t *testing.T) {
	r := initTestRepo(t)

	from := commitFile(t, r, "main", "docs/a.md", "v1", "first")
	commitFile(t, r, "main", "docs/a.md", "v2", "second")
	to := commitFile(t, r, "main", "docs/b.md", "new", "third")

	files, err := r.ChangedFiles(from, to)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.md", "docs/b.md"}, files)
}

func TestTreeFilesVisitsAllContent(t *testing.T) {
	r := initTestRepo(t)

	commitFile(t, r, "main", "docs/a.md", "alpha", "first")
	tip := commitFile(t, r, "main", "docs/sub/b.md", "beta", "second")

	seen := make(map[string]string)
	err := r.TreeFiles(tip, func(path string, content []byte) error {
		seen[path] = string(content)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"docs/a.md":     "alpha",
		"docs/sub/b.md": "beta",
	}, seen)
}
