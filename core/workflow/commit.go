package workflow

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adalundhe/inkwell/core/repo"
	"github.com/adalundhe/inkwell/core/wherr"
)

// Commit atomically writes one file and commits it on the named branch,
// returning the new commit's hash. On any failure the working tree is fully
// reset, so the branch is left exactly as before the call; no partial
// commit is ever visible.
//
// For binary payloads (isBinary) the file must already have been staged on
// disk at path by the upload layer; content is ignored and the on-disk
// bytes are committed as-is.
func (e *Engine) Commit(branch, path string, content []byte, message string, author repo.Author, isBinary bool) (string, error) {
	start := time.Now()

	commitID, err := e.commit(branch, path, content, message, author, isBinary)
	e.record("commit", author.Name, branch, path, start, err, message)
	return commitID, err
}

func (e *Engine) commit(branch, path string, content []byte, message string, author repo.Author, isBinary bool) (string, error) {
	if branch == e.main {
		return "", wherr.NewValidationError("branch", branch,
			"main receives content only via merge")
	}
	if err := validateFilePath(path); err != nil {
		return "", err
	}
	if message == "" {
		message = fmt.Sprintf("update %s", path)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.repo.BranchExists(branch) {
		return "", wherr.ErrBranchNotFound
	}

	if err := e.repo.Checkout(branch); err != nil {
		return "", err
	}

	commitID, err := e.stageAndCommit(path, content, message, author, isBinary)
	if errors.Is(err, wherr.ErrNothingToCommit) {
		// The branch tip already carries this exact content, so a retried
		// commit has nothing to do; report the existing tip as the result.
		return e.repo.BranchTip(branch)
	}
	if err != nil {
		// Discard everything so the branch tip and worktree match the
		// pre-call state.
		if resetErr := e.repo.ResetHard(); resetErr != nil {
			return "", wherr.NewRepositoryError("commit rollback", resetErr)
		}
		return "", err
	}

	e.cache.Invalidate()
	return commitID, nil
}

// stageAndCommit writes (or verifies) the payload and creates the commit.
func (e *Engine) stageAndCommit(path string, content []byte, message string, author repo.Author, isBinary bool) (string, error) {
	if isBinary {
		if !e.repo.FileExistsInWorktree(path) {
			return "", wherr.NewValidationError("filePath", path,
				"binary payload not staged in working tree")
		}
	} else {
		if err := e.repo.WriteFile(path, content); err != nil {
			return "", err
		}
	}

	return e.repo.Commit(path, message, author)
}

// validateFilePath rejects absolute paths and any path that climbs out of
// the repository.
func validateFilePath(path string) error {
	if path == "" {
		return wherr.NewValidationError("filePath", path, "must not be empty")
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return wherr.NewValidationError("filePath", path, "must be relative")
	}

	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return wherr.NewValidationError("filePath", path,
				"must not contain parent directory segments")
		}
	}

	return nil
}
