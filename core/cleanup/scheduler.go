package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrSchedulerClosed indicates Start was called on a stopped scheduler.
	ErrSchedulerClosed = errors.New("scheduler is closed")

	// ErrNoTasks indicates the scheduler has nothing to run.
	ErrNoTasks = errors.New("no tasks registered")
)

// Task is one named background job with its own interval. Dependencies are
// captured in the Run closure at construction; tasks never register
// themselves implicitly.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives the periodic background tasks: pull, cleanup, rebuild.
type Scheduler struct {
	tasks  []Task
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewScheduler constructs a scheduler over the given tasks.
func NewScheduler(tasks ...Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Start launches one goroutine per task. Tasks tick on their interval until
// ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	if len(s.tasks) == 0 {
		return ErrNoTasks
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(runCtx, task)
	}

	return nil
}

// runTask ticks one task until the context ends.
func (s *Scheduler) runTask(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

// runOnce executes a task run and logs its outcome.
func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	start := time.Now()

	if err := task.Run(ctx); err != nil {
		slog.Error("scheduled task failed",
			slog.String("task", task.Name),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return
	}

	slog.Debug("scheduled task completed",
		slog.String("task", task.Name),
		slog.Duration("elapsed", time.Since(start)))
}

// Stop cancels all tasks and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
