// Package repo wraps the canonical git repository behind the engine. It uses
// go-git/v5 for object and reference level work (branches, commits, trees,
// merge bases, history walks) and shells out to the git binary for the
// worktree-level operations go-git does not model: three-way merges with
// conflict detection, merge aborts, and hard resets.
//
// Every error leaving this package is translated into the wherr taxonomy.
package repo

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gogitconf "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/adalundhe/inkwell/core/wherr"
)

// Author identifies the person a commit is attributed to.
type Author struct {
	Name  string
	Email string
}

// signature converts an Author into a go-git signature stamped now.
func (a Author) signature(when time.Time) *object.Signature {
	return &object.Signature{
		Name:  a.Name,
		Email: a.Email,
		When:  when,
	}
}

// Repo is a handle to the canonical repository. It is not internally
// synchronized: callers serialize all mutating sequences behind the engine's
// repository lock.
type Repo struct {
	path string
	repo *gogit.Repository
}

// Open opens an existing repository at path.
func Open(path string) (*Repo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, wherr.Translate("open", err)
	}

	repo, err := gogit.PlainOpen(absPath)
	if err != nil {
		return nil, wherr.Translate("open", err)
	}

	return &Repo{path: absPath, repo: repo}, nil
}

// Init creates a new repository at path with an empty initial commit on
// mainBranch, so every later branch has a tip to fork from.
func Init(path, mainBranch string, author Author) (*Repo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, wherr.Translate("init", err)
	}

	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, wherr.Translate("init", err)
	}

	repo, err := gogit.PlainInitWithOptions(absPath, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(mainBranch),
		},
	})
	if err != nil {
		return nil, wherr.Translate("init", err)
	}

	r := &Repo{path: absPath, repo: repo}
	if err := r.initialCommit(mainBranch, author); err != nil {
		return nil, err
	}

	return r, nil
}

// initialCommit creates the empty root commit.
func (r *Repo) initialCommit(mainBranch string, author Author) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return wherr.Translate("init", err)
	}

	_, err = wt.Commit("initialize repository", &gogit.CommitOptions{
		Author:            author.signature(time.Now()),
		AllowEmptyCommits: true,
	})
	return wherr.Translate("init", err)
}

// Path returns the repository's absolute working tree path.
func (r *Repo) Path() string { return r.path }

// Underlying exposes the go-git repository for read-only plumbing.
func (r *Repo) Underlying() *gogit.Repository { return r.repo }

// =============================================================================
// References
// =============================================================================

// Head returns the commit hash HEAD points at.
func (r *Repo) Head() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", wherr.Translate("head", err)
	}
	return ref.Hash().String(), nil
}

// BranchTip returns the commit hash a branch points at.
func (r *Repo) BranchTip(name string) (string, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", wherr.ErrBranchNotFound
		}
		return "", wherr.Translate("branch tip", err)
	}
	return ref.Hash().String(), nil
}

// BranchExists reports whether the named branch exists.
func (r *Repo) BranchExists(name string) bool {
	_, err := r.BranchTip(name)
	return err == nil
}

// Branches returns the names of all local branches.
func (r *Repo) Branches() ([]string, error) {
	iter, err := r.repo.Branches()
	if err != nil {
		return nil, wherr.Translate("branches", err)
	}
	defer iter.Close()

	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, wherr.Translate("branches", err)
	}

	return names, nil
}

// CreateBranch points a new branch at the given commit without touching the
// working tree.
func (r *Repo) CreateBranch(name, fromHash string) error {
	if r.BranchExists(name) {
		return wherr.NewValidationError("branch", name, "already exists")
	}

	ref := plumbing.NewHashReference(
		plumbing.NewBranchReferenceName(name),
		plumbing.NewHash(fromHash),
	)
	return wherr.Translate("create branch", r.repo.Storer.SetReference(ref))
}

// DeleteBranch removes a branch reference. The working tree is untouched;
// callers must not delete the currently checked-out branch.
func (r *Repo) DeleteBranch(name string) error {
	if !r.BranchExists(name) {
		return wherr.ErrBranchNotFound
	}
	return wherr.Translate("delete branch",
		r.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(name)))
}

// CurrentBranch returns the short name of the checked-out branch.
func (r *Repo) CurrentBranch() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", wherr.Translate("current branch", err)
	}
	return ref.Name().Short(), nil
}

// =============================================================================
// Worktree
// =============================================================================

// Checkout switches the working tree to the named branch.
func (r *Repo) Checkout(name string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return wherr.Translate("checkout", err)
	}

	err = wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Force:  true,
	})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return wherr.ErrBranchNotFound
		}
		return wherr.Translate("checkout", err)
	}

	return nil
}

// WriteFile writes content into the working tree at relPath, creating parent
// directories as needed. relPath must already be validated by the caller.
func (r *Repo) WriteFile(relPath string, content []byte) error {
	full := filepath.Join(r.path, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return wherr.Translate("write file", err)
	}
	return wherr.Translate("write file", os.WriteFile(full, content, 0o644))
}

// FileExistsInWorktree reports whether relPath exists on disk in the
// working tree.
func (r *Repo) FileExistsInWorktree(relPath string) bool {
	_, err := os.Stat(filepath.Join(r.path, relPath))
	return err == nil
}

// Commit stages relPath and commits it on the checked-out branch.
func (r *Repo) Commit(relPath, message string, author Author) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", wherr.Translate("commit", err)
	}

	if _, err := wt.Add(relPath); err != nil {
		return "", wherr.Translate("commit", err)
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: author.signature(time.Now()),
	})
	if err != nil {
		return "", wherr.Translate("commit", err)
	}

	return hash.String(), nil
}

// ResetHard discards every staged and unstaged change, restoring the
// checked-out branch's tip state, and removes untracked files.
func (r *Repo) ResetHard() error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return wherr.Translate("reset", err)
	}

	if err := wt.Reset(&gogit.ResetOptions{Mode: gogit.HardReset}); err != nil {
		return wherr.Translate("reset", err)
	}

	err = wt.Clean(&gogit.CleanOptions{Dir: true})
	return wherr.Translate("reset", err)
}

// =============================================================================
// Git CLI
// =============================================================================

// runGit executes a git command in the repository and returns combined
// stdout. Merge and status plumbing go through here; go-git does not model
// three-way worktree merges.
func (r *Repo) runGit(args ...string) (string, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return "", wherr.ErrGitNotInstalled
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = r.path
	// CLI-created commits are merges the engine itself authors, so they
	// always carry the engine identity. The env vars take precedence over
	// any identity configured on the host.
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=inkwell",
		"GIT_AUTHOR_EMAIL=inkwell@localhost",
		"GIT_COMMITTER_NAME=inkwell",
		"GIT_COMMITTER_EMAIL=inkwell@localhost",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), parseGitError(err, stderr.String(), stdout.String())
	}

	return stdout.String(), nil
}

// parseGitError converts git CLI failures into taxonomy errors where the
// stderr text identifies a known class.
func parseGitError(err error, stderr, stdout string) error {
	combined := stderr + stdout

	switch {
	case strings.Contains(combined, "not something we can merge"),
		strings.Contains(combined, "did not match any file"):
		return wherr.ErrBranchNotFound
	case strings.Contains(combined, "no space left on device"):
		return wherr.ErrStorageExhausted
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return wherr.NewRepositoryError("git",
			fmt.Errorf("%s", strings.TrimSpace(stderr)))
	}

	return wherr.Translate("git", err)
}

// RemoteURL returns the configured URL of the named remote.
func (r *Repo) RemoteURL(name string) (string, error) {
	remote, err := r.repo.Remote(name)
	if err != nil {
		return "", wherr.Translate("remote", err)
	}

	cfg := remote.Config()
	if len(cfg.URLs) == 0 {
		return "", wherr.NewRepositoryError("remote",
			fmt.Errorf("remote %s has no URL", name))
	}
	return cfg.URLs[0], nil
}

// AddRemote registers a remote by name and URL. Used by tests and setup
// tooling.
func (r *Repo) AddRemote(name, url string) error {
	_, err := r.repo.CreateRemote(&gogitconf.RemoteConfig{
		Name: name,
		URLs: []string{url},
	})
	return wherr.Translate("add remote", err)
}
