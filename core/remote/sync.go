// Package remote synchronizes local history with the remote copy: pulls
// with abort-on-conflict, strictly-ahead pushes, and a rate-limited webhook
// entry point backed by a TTL cache rather than ad hoc globals.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adalundhe/inkwell/core/oplog"
	"github.com/adalundhe/inkwell/core/repo"
	"github.com/adalundhe/inkwell/core/snapshot"
	"github.com/adalundhe/inkwell/core/wherr"
)

// Options tunes a sync Service.
type Options struct {
	// RemoteName is the git remote to synchronize with. Defaults to
	// "origin".
	RemoteName string

	// MainBranch is the canonical branch. Defaults to "main".
	MainBranch string

	// PullTimeout and PushTimeout bound remote network calls.
	PullTimeout time.Duration
	PushTimeout time.Duration

	// WebhookWindow is the minimum spacing between webhook-triggered
	// pulls. Defaults to 60 seconds.
	WebhookWindow time.Duration
}

// Service synchronizes with the remote. It shares the repository-wide lock
// with the workflow engine since pulls mutate the working tree.
type Service struct {
	repo  *repo.Repo
	mu    *sync.Mutex
	log   *oplog.Log
	snaps *snapshot.Writer
	gate  *pullGate

	remoteName  string
	main        string
	pullTimeout time.Duration
	pushTimeout time.Duration
}

// Result reports what a pull changed.
type Result struct {
	Changed      bool
	FilesChanged []string
}

// NewService constructs the sync service around the shared repository lock.
func NewService(r *repo.Repo, lock *sync.Mutex, log *oplog.Log, snaps *snapshot.Writer, opts Options) (*Service, error) {
	if opts.RemoteName == "" {
		opts.RemoteName = "origin"
	}
	if opts.MainBranch == "" {
		opts.MainBranch = "main"
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = 30 * time.Second
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = 30 * time.Second
	}
	if opts.WebhookWindow <= 0 {
		opts.WebhookWindow = 60 * time.Second
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}

	gate, err := newPullGate(opts.WebhookWindow)
	if err != nil {
		return nil, err
	}

	return &Service{
		repo:        r,
		mu:          lock,
		log:         log,
		snaps:       snaps,
		gate:        gate,
		remoteName:  opts.RemoteName,
		main:        opts.MainBranch,
		pullTimeout: opts.PullTimeout,
		pushTimeout: opts.PushTimeout,
	}, nil
}

// =============================================================================
// Pull
// =============================================================================

// Pull fetches from the remote and merges its main into local main. A
// conflicting merge is aborted, leaving local state untouched, and surfaced
// as a RemoteConflictError. On success the changed files are diffed from the
// pre/post tips and main's snapshot is regenerated when anything moved.
func (s *Service) Pull(ctx context.Context) (*Result, error) {
	start := time.Now()

	result, err := s.pull(ctx)
	s.record("pull", start, err, detailOf(result))
	return result, err
}

func (s *Service) pull(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.pullTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	preTip, err := s.repo.BranchTip(s.main)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.Fetch(ctx, s.remoteName); err != nil {
		return nil, err
	}

	remoteTip, exists, err := s.repo.RemoteTip(s.remoteName, s.main)
	if err != nil {
		return nil, err
	}
	if !exists || remoteTip == preTip {
		return &Result{}, nil
	}

	if err := s.mergeRemote(); err != nil {
		return nil, err
	}

	return s.diffResult(preTip)
}

// mergeRemote merges the remote-tracking main into local main, aborting on
// conflict.
func (s *Service) mergeRemote() error {
	if err := s.repo.Checkout(s.main); err != nil {
		return err
	}
	return s.repo.MergeRef(fmt.Sprintf("%s/%s", s.remoteName, s.main))
}

// diffResult computes the changed files between the pre-pull tip and the
// new tip, and refreshes main's snapshot when anything changed.
func (s *Service) diffResult(preTip string) (*Result, error) {
	postTip, err := s.repo.BranchTip(s.main)
	if err != nil {
		return nil, err
	}
	if postTip == preTip {
		return &Result{}, nil
	}

	files, err := s.repo.ChangedFiles(preTip, postTip)
	if err != nil {
		return nil, err
	}

	result := &Result{Changed: true, FilesChanged: files}

	if err := s.snaps.Write(s.main); err != nil {
		slog.Error("snapshot after pull failed",
			slog.String("error", err.Error()))
	}

	return result, nil
}

// =============================================================================
// Push
// =============================================================================

// Push uploads a branch to the remote, refusing unless local is strictly
// ahead: if the remote holds commits we do not, DivergedBranchError is
// returned and the caller must pull first.
func (s *Service) Push(ctx context.Context, branch string) error {
	start := time.Now()

	err := s.push(ctx, branch)
	s.record("push", start, err, branch)
	return err
}

func (s *Service) push(ctx context.Context, branch string) error {
	ctx, cancel := context.WithTimeout(ctx, s.pushTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	localTip, err := s.repo.BranchTip(branch)
	if err != nil {
		return err
	}

	if _, err := s.repo.Fetch(ctx, s.remoteName); err != nil {
		return err
	}

	remoteTip, exists, err := s.repo.RemoteTip(s.remoteName, branch)
	if err != nil {
		return err
	}
	if exists {
		if remoteTip == localTip {
			return nil
		}
		ahead, err := s.repo.IsAncestor(remoteTip, localTip)
		if err != nil {
			return err
		}
		if !ahead {
			return wherr.ErrDiverged
		}
	}

	return s.repo.Push(ctx, s.remoteName, branch)
}

// =============================================================================
// Webhook Trigger
// =============================================================================

// WebhookStatus is the outcome of a webhook trigger.
type WebhookStatus string

const (
	// StatusPulled means the trigger performed a real pull.
	StatusPulled WebhookStatus = "PULLED"
	// StatusRateLimited means the trigger fell inside the rate window.
	StatusRateLimited WebhookStatus = "RATE_LIMITED"
)

// WebhookResult reports what a webhook trigger did.
type WebhookResult struct {
	Status     WebhookStatus
	RetryAfter time.Duration
	Pull       *Result
}

// TriggerFromWebhook is the rate-limited pull entry point for remote-push
// webhooks. At most one real pull happens per window; excess triggers get
// RATE_LIMITED with a computed retry-after instead of being queued or
// silently dropped.
func (s *Service) TriggerFromWebhook(ctx context.Context) (*WebhookResult, error) {
	allowed, retryAfter := s.gate.Allow()
	if !allowed {
		return &WebhookResult{Status: StatusRateLimited, RetryAfter: retryAfter},
			&wherr.RateLimitedError{RetryAfter: retryAfter}
	}

	result, err := s.Pull(ctx)
	if err != nil {
		return nil, err
	}

	return &WebhookResult{Status: StatusPulled, Pull: result}, nil
}

// =============================================================================
// Ledger
// =============================================================================

// record appends a sync operation to the ledger.
func (s *Service) record(op string, start time.Time, opErr error, detail string) {
	if s.log == nil {
		return
	}

	outcome := oplog.OutcomeOK
	if opErr != nil {
		outcome = oplog.OutcomeError
	}

	entry := oplog.Entry{
		At:       start,
		Op:       op,
		Branch:   s.main,
		Outcome:  outcome,
		ErrKind:  wherr.Kind(opErr),
		Duration: time.Since(start),
		Detail:   detail,
	}
	if err := s.log.Append(entry); err != nil {
		slog.Error("operation log append failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
	}
}

// detailOf summarizes a pull result for the ledger.
func detailOf(result *Result) string {
	if result == nil || !result.Changed {
		return ""
	}
	return fmt.Sprintf("%d file(s) changed", len(result.FilesChanged))
}
