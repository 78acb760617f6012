package wherr

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"strings"
	"syscall"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Translate classifies a low-level go-git or git-CLI failure into the engine
// taxonomy. Errors already in the taxonomy pass through unchanged. A nil err
// returns nil.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomain(err) {
		return err
	}

	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return ErrBranchNotFound
	case errors.Is(err, gogit.ErrEmptyCommit):
		return ErrNothingToCommit
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return ErrRemoteAuth
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return ErrRemoteUnreachable
	case isUnreachable(err):
		return ErrRemoteUnreachable
	case isStorageExhausted(err):
		return ErrStorageExhausted
	}

	return NewRepositoryError(op, err)
}

// isDomain reports whether err already belongs to the taxonomy.
func isDomain(err error) bool {
	var (
		repoErr     *RepositoryError
		validation  *ValidationError
		conflict    *ConflictError
		remoteConfl *RemoteConflictError
		rateLimited *RateLimitedError
	)
	if errors.As(err, &repoErr) || errors.As(err, &validation) ||
		errors.As(err, &conflict) || errors.As(err, &remoteConfl) ||
		errors.As(err, &rateLimited) {
		return true
	}
	return errors.Is(err, ErrBranchNotFound) ||
		errors.Is(err, ErrGitNotInstalled) ||
		errors.Is(err, ErrRemoteUnreachable) ||
		errors.Is(err, ErrRemoteAuth) ||
		errors.Is(err, ErrDiverged) ||
		errors.Is(err, ErrStorageExhausted) ||
		errors.Is(err, ErrNothingToCommit)
}

// isUnreachable reports whether err looks like a network-level failure.
func isUnreachable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// isStorageExhausted reports whether err indicates a full disk.
func isStorageExhausted(err error) bool {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return true
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr.Err, syscall.ENOSPC)
	}

	return strings.Contains(err.Error(), "no space left on device")
}

// Kind returns a short stable name for err's taxonomy class, used by the
// operation log.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var (
		validation  *ValidationError
		conflict    *ConflictError
		remoteConfl *RemoteConflictError
		rateLimited *RateLimitedError
		repoErr     *RepositoryError
	)

	switch {
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &remoteConfl):
		return "remote_conflict"
	case errors.As(err, &rateLimited):
		return "rate_limited"
	case errors.Is(err, ErrBranchNotFound):
		return "branch_not_found"
	case errors.Is(err, ErrRemoteAuth):
		return "remote_auth"
	case errors.Is(err, ErrRemoteUnreachable):
		return "remote_unreachable"
	case errors.Is(err, ErrDiverged):
		return "diverged"
	case errors.Is(err, ErrStorageExhausted):
		return "storage_exhausted"
	case errors.Is(err, ErrGitNotInstalled):
		return "git_not_installed"
	case errors.Is(err, ErrNothingToCommit):
		return "nothing_to_commit"
	case errors.As(err, &repoErr):
		return "repository"
	}

	return "unknown"
}
