package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/adalundhe/inkwell/core/wherr"
)

// Draft branches are named draft-{ownerId}-{token}. Only names matching
// this pattern may ever be deleted; main can never be targeted.
var draftNamePattern = regexp.MustCompile(`^draft-([A-Za-z0-9_.-]+)-([0-9a-f]{8})$`)

// ownerIDPattern constrains owner identifiers to branch-name-safe text.
var ownerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// maxTokenRetries bounds regeneration attempts on a token collision.
const maxTokenRetries = 5

// IsDraftName reports whether name matches the draft branch pattern.
func IsDraftName(name string) bool {
	return draftNamePattern.MatchString(name)
}

// draftToken returns a fresh 8-hex-digit token.
func draftToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// =============================================================================
// CreateDraft
// =============================================================================

// CreateDraft creates an isolated draft branch for ownerID, forked from
// main's current tip, and returns its name.
func (e *Engine) CreateDraft(ownerID string) (string, error) {
	start := time.Now()

	name, err := e.createDraft(ownerID)
	e.record("create_draft", ownerID, name, "", start, err, "")
	return name, err
}

func (e *Engine) createDraft(ownerID string) (string, error) {
	if !ownerIDPattern.MatchString(ownerID) {
		return "", wherr.NewValidationError("ownerId", ownerID,
			"must be non-empty and contain only letters, digits, '.', '-' or '_'")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tip, err := e.repo.BranchTip(e.main)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < maxTokenRetries; attempt++ {
		name := fmt.Sprintf("draft-%s-%s", ownerID, draftToken())
		if e.repo.BranchExists(name) {
			continue
		}
		if err := e.repo.CreateBranch(name, tip); err != nil {
			return "", err
		}
		return name, nil
	}

	return "", wherr.NewRepositoryError("create draft",
		fmt.Errorf("could not find a free draft name after %d attempts", maxTokenRetries))
}

// =============================================================================
// DeleteDraft
// =============================================================================

// DeleteDraft removes a draft branch. Names not matching the draft pattern
// are refused, so main and other long-lived branches can never be deleted
// through this path.
func (e *Engine) DeleteDraft(name string) error {
	start := time.Now()

	err := e.deleteDraft(name)
	e.record("delete_draft", "", name, "", start, err, "")
	return err
}

func (e *Engine) deleteDraft(name string) error {
	if !IsDraftName(name) {
		return wherr.NewValidationError("branch", name,
			"only draft branches may be deleted")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.releaseIfCheckedOut(name); err != nil {
		return err
	}

	if err := e.repo.DeleteBranch(name); err != nil {
		return err
	}

	e.cache.Invalidate()
	return nil
}

// releaseIfCheckedOut moves HEAD off name so its ref can be deleted.
func (e *Engine) releaseIfCheckedOut(name string) error {
	current, err := e.repo.CurrentBranch()
	if err != nil {
		return err
	}
	if current != name {
		return nil
	}
	return e.repo.Checkout(e.main)
}

// =============================================================================
// ListBranches
// =============================================================================

// ListBranches returns branch names matching a glob-style pattern, sorted.
// An empty pattern matches everything.
func (e *Engine) ListBranches(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}

	matcher, err := glob.Compile(pattern)
	if err != nil {
		return nil, wherr.NewValidationError("pattern", pattern, "invalid glob")
	}

	names, err := e.repo.Branches()
	if err != nil {
		return nil, err
	}

	var matched []string
	for _, name := range names {
		if matcher.Match(name) {
			matched = append(matched, name)
		}
	}

	sort.Strings(matched)
	return matched, nil
}

// draftBranches returns every branch matching the draft pattern.
func (e *Engine) draftBranches() ([]string, error) {
	names, err := e.repo.Branches()
	if err != nil {
		return nil, err
	}

	var drafts []string
	for _, name := range names {
		if IsDraftName(name) {
			drafts = append(drafts, name)
		}
	}

	sort.Strings(drafts)
	return drafts, nil
}
