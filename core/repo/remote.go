package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	gogitconf "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/adalundhe/inkwell/core/wherr"
)

// Fetch updates remote-tracking refs from the named remote. A fetch that
// finds nothing new is not an error; the bool reports whether anything
// changed.
func (r *Repo) Fetch(ctx context.Context, remote string) (bool, error) {
	err := r.repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: remote,
	})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return false, nil
	}
	if err != nil {
		return false, wherr.Translate("fetch", err)
	}
	return true, nil
}

// Push uploads a branch to the named remote. Callers verify ancestry first;
// a rejected non-fast-forward push still maps to ErrDiverged as a backstop
// against races with other writers.
func (r *Repo) Push(ctx context.Context, remote, branch string) error {
	refSpec := gogitconf.RefSpec(fmt.Sprintf(
		"refs/heads/%s:refs/heads/%s", branch, branch))

	err := r.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: remote,
		RefSpecs:   []gogitconf.RefSpec{refSpec},
	})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		if isNonFastForward(err) {
			return wherr.ErrDiverged
		}
		return wherr.Translate("push", err)
	}
	return nil
}

// isNonFastForward reports whether a push was rejected because the remote
// has commits we do not.
func isNonFastForward(err error) bool {
	return errors.Is(err, gogit.ErrNonFastForwardUpdate) ||
		strings.Contains(err.Error(), "non-fast-forward")
}

// RemoteTip returns the hash of the remote-tracking ref for branch, e.g.
// refs/remotes/origin/main after a fetch. The bool is false when the remote
// has no such branch yet.
func (r *Repo) RemoteTip(remote, branch string) (string, bool, error) {
	refName := plumbing.NewRemoteReferenceName(remote, branch)
	ref, err := r.repo.Reference(refName, true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", false, nil
		}
		return "", false, wherr.Translate("remote tip", err)
	}
	return ref.Hash().String(), true, nil
}
