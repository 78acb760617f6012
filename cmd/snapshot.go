package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [branch]",
	Short: "Export a branch's snapshot (default: main)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	branch := a.cfg.Repo.MainBranch
	if len(args) == 1 {
		branch = args[0]
	}

	if err := a.snaps.Write(branch); err != nil {
		return err
	}

	fmt.Printf("snapshot written for %s\n", branch)
	return nil
}
