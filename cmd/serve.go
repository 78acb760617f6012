package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adalundhe/inkwell/core/cleanup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine with its background tasks",
	Long: `Run the workflow engine until interrupted: periodic remote pulls,
background conflict-scan refreshes, daily stale-draft cleanup, weekly full
snapshot rebuilds, and the conflict cache ref watcher.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := a.engine.WatchRefs(ctx)
	if err != nil {
		return err
	}
	defer watcher.Close()

	janitor := cleanup.NewJanitor(a.engine, a.repo, a.snaps, a.contexts)

	scheduler := cleanup.NewScheduler(
		cleanup.Task{
			Name:     "pull",
			Interval: a.cfg.Remote.PullIntervalDuration(),
			Run: func(ctx context.Context) error {
				_, err := a.sync.Pull(ctx)
				return err
			},
		},
		cleanup.Task{
			Name:     "cleanup",
			Interval: a.cfg.Cleanup.IntervalDuration(),
			Run: func(ctx context.Context) error {
				_, err := janitor.CleanupStale(a.cfg.Cleanup.MaxAgeDays)
				return err
			},
		},
		cleanup.Task{
			Name:     "conflict-scan",
			Interval: a.cfg.Conflicts.ScanIntervalDuration(),
			Run: func(ctx context.Context) error {
				return a.engine.RefreshConflicts()
			},
		},
		cleanup.Task{
			Name:     "rebuild",
			Interval: a.cfg.Cleanup.RebuildIntervalDuration(),
			Run: func(ctx context.Context) error {
				return janitor.FullRebuild()
			},
		},
	)

	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	slog.Info("inkwell serving",
		slog.String("repo", a.repo.Path()),
		slog.String("snapshots", a.snaps.Dir()))

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}
