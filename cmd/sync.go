package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize with the remote copy of history",
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch and merge remote changes into main",
	RunE:  runSyncPull,
}

var syncPushCmd = &cobra.Command{
	Use:   "push [branch]",
	Short: "Push a branch to the remote (default: main)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSyncPush,
}

func init() {
	syncCmd.AddCommand(syncPullCmd)
	syncCmd.AddCommand(syncPushCmd)
	rootCmd.AddCommand(syncCmd)
}

func runSyncPull(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.sync.Pull(context.Background())
	if err != nil {
		return err
	}

	if !result.Changed {
		fmt.Println("already up to date")
		return nil
	}

	fmt.Printf("pulled %d file(s):\n  %s\n",
		len(result.FilesChanged),
		strings.Join(result.FilesChanged, "\n  "))
	return nil
}

func runSyncPush(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	branch := a.cfg.Repo.MainBranch
	if len(args) == 1 {
		branch = args[0]
	}

	if err := a.sync.Push(context.Background(), branch); err != nil {
		return err
	}

	fmt.Printf("pushed %s\n", branch)
	return nil
}
