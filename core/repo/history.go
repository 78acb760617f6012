package repo

import (
	"errors"
	"io"
	"sort"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/adalundhe/inkwell/core/wherr"
)

// CommitInfo is a read-only descriptor of one commit.
type CommitInfo struct {
	Hash    string
	Author  string
	Email   string
	When    time.Time
	Message string
}

// FileHistory summarizes one file's history on a branch: its most recent
// commit, the set of contributors, and how many commits touched it.
type FileHistory struct {
	Path         string
	LastCommit   CommitInfo
	Contributors []string
	CommitCount  int
}

// commitInfoOf converts a go-git commit into a CommitInfo.
func commitInfoOf(c *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:    c.Hash.String(),
		Author:  c.Author.Name,
		Email:   c.Author.Email,
		When:    c.Author.When,
		Message: c.Message,
	}
}

// commitObject resolves a hash string into a commit object.
func (r *Repo) commitObject(hash string) (*object.Commit, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, wherr.Translate("commit object", err)
	}
	return commit, nil
}

// =============================================================================
// File Content
// =============================================================================

// FileAt returns the content of relPath in the commit identified by hash.
// A file absent from that commit's tree yields empty content and no error:
// three-way comparisons treat absence as an empty side.
func (r *Repo) FileAt(hash, relPath string) ([]byte, error) {
	commit, err := r.commitObject(hash)
	if err != nil {
		return nil, err
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, wherr.Translate("file at", err)
	}

	file, err := tree.File(relPath)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return []byte{}, nil
		}
		return nil, wherr.Translate("file at", err)
	}

	return readBlob(file)
}

// readBlob reads a file object's full content.
func readBlob(file *object.File) ([]byte, error) {
	reader, err := file.Reader()
	if err != nil {
		return nil, wherr.Translate("file at", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, wherr.Translate("file at", err)
	}
	return data, nil
}

// =============================================================================
// Ancestry
// =============================================================================

// MergeBase returns the hash of the nearest common ancestor of the two
// branches, the "base" version in three-way comparison.
func (r *Repo) MergeBase(branchA, branchB string) (string, error) {
	commitA, err := r.tipCommit(branchA)
	if err != nil {
		return "", err
	}
	commitB, err := r.tipCommit(branchB)
	if err != nil {
		return "", err
	}

	bases, err := commitA.MergeBase(commitB)
	if err != nil {
		return "", wherr.Translate("merge base", err)
	}
	if len(bases) == 0 {
		return "", wherr.NewRepositoryError("merge base",
			errors.New("branches share no common ancestor"))
	}

	return bases[0].Hash.String(), nil
}

// IsAncestor reports whether the commit at ancestorHash is an ancestor of
// the commit at descendantHash.
func (r *Repo) IsAncestor(ancestorHash, descendantHash string) (bool, error) {
	ancestor, err := r.commitObject(ancestorHash)
	if err != nil {
		return false, err
	}
	descendant, err := r.commitObject(descendantHash)
	if err != nil {
		return false, err
	}

	ok, err := ancestor.IsAncestor(descendant)
	if err != nil {
		return false, wherr.Translate("is ancestor", err)
	}
	return ok, nil
}

// tipCommit resolves a branch name to its tip commit object.
func (r *Repo) tipCommit(branch string) (*object.Commit, error) {
	tip, err := r.BranchTip(branch)
	if err != nil {
		return nil, err
	}
	return r.commitObject(tip)
}

// TipTime returns the author timestamp of the branch's tip commit, used as
// the branch's last-activity marker by the cleanup janitor.
func (r *Repo) TipTime(branch string) (time.Time, error) {
	commit, err := r.tipCommit(branch)
	if err != nil {
		return time.Time{}, err
	}
	return commit.Author.When, nil
}

// =============================================================================
// History Walks
// =============================================================================

// HistoryOf walks the branch's history for relPath and derives the per-file
// metadata a snapshot records.
func (r *Repo) HistoryOf(branch, relPath string) (*FileHistory, error) {
	tip, err := r.BranchTip(branch)
	if err != nil {
		return nil, err
	}

	iter, err := r.repo.Log(&gogit.LogOptions{
		From:       plumbing.NewHash(tip),
		PathFilter: func(p string) bool { return p == relPath },
	})
	if err != nil {
		return nil, wherr.Translate("history", err)
	}
	defer iter.Close()

	return collectFileHistory(iter, relPath)
}

// collectFileHistory folds a commit iterator into a FileHistory.
func collectFileHistory(iter object.CommitIter, relPath string) (*FileHistory, error) {
	history := &FileHistory{Path: relPath}
	contributors := make(map[string]struct{})

	err := iter.ForEach(func(commit *object.Commit) error {
		if history.CommitCount == 0 {
			history.LastCommit = commitInfoOf(commit)
		}
		contributors[commit.Author.Name] = struct{}{}
		history.CommitCount++
		return nil
	})
	if err != nil && err != io.EOF {
		return nil, wherr.Translate("history", err)
	}

	for name := range contributors {
		history.Contributors = append(history.Contributors, name)
	}
	sort.Strings(history.Contributors)

	return history, nil
}

// CommitsSince returns the commits on branch from its tip back to, but not
// including, the commit at stopHash, newest first.
func (r *Repo) CommitsSince(branch, stopHash string) ([]CommitInfo, error) {
	tip, err := r.BranchTip(branch)
	if err != nil {
		return nil, err
	}

	iter, err := r.repo.Log(&gogit.LogOptions{
		From: plumbing.NewHash(tip),
	})
	if err != nil {
		return nil, wherr.Translate("commits since", err)
	}
	defer iter.Close()

	var infos []CommitInfo
	err = iter.ForEach(func(commit *object.Commit) error {
		if commit.Hash.String() == stopHash {
			return storer.ErrStop
		}
		infos = append(infos, commitInfoOf(commit))
		return nil
	})
	if err != nil && err != io.EOF {
		return nil, wherr.Translate("commits since", err)
	}

	return infos, nil
}

// =============================================================================
// Tree Listing and Diffs
// =============================================================================

// TreeFiles returns every file path and its content in the commit at hash.
// The visit callback receives paths in tree order.
func (r *Repo) TreeFiles(hash string, visit func(path string, content []byte) error) error {
	commit, err := r.commitObject(hash)
	if err != nil {
		return err
	}

	tree, err := commit.Tree()
	if err != nil {
		return wherr.Translate("tree files", err)
	}

	err = tree.Files().ForEach(func(file *object.File) error {
		content, err := readBlob(file)
		if err != nil {
			return err
		}
		return visit(file.Name, content)
	})
	return wherr.Translate("tree files", err)
}

// ChangedFiles returns the paths that differ between two commits.
func (r *Repo) ChangedFiles(fromHash, toHash string) ([]string, error) {
	from, err := r.commitObject(fromHash)
	if err != nil {
		return nil, err
	}
	to, err := r.commitObject(toHash)
	if err != nil {
		return nil, err
	}

	fromTree, err := from.Tree()
	if err != nil {
		return nil, wherr.Translate("changed files", err)
	}
	toTree, err := to.Tree()
	if err != nil {
		return nil, wherr.Translate("changed files", err)
	}

	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, wherr.Translate("changed files", err)
	}

	return changedPaths(changes), nil
}

// changedPaths extracts the unique file paths touched by a change set.
func changedPaths(changes object.Changes) []string {
	seen := make(map[string]struct{})
	var paths []string

	for _, change := range changes {
		for _, name := range []string{change.From.Name, change.To.Name} {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			paths = append(paths, name)
		}
	}

	sort.Strings(paths)
	return paths
}
