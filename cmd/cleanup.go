package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adalundhe/inkwell/core/cleanup"
)

var (
	cleanupAgeDays int
	cleanupRebuild bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Retire stale drafts and prune snapshots",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupAgeDays, "age", 7,
		"delete unreferenced drafts older than this many days")
	cleanupCmd.Flags().BoolVar(&cleanupRebuild, "rebuild", false,
		"also run a full snapshot rebuild")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	janitor := cleanup.NewJanitor(a.engine, a.repo, a.snaps, a.contexts)

	removed, err := janitor.CleanupStale(cleanupAgeDays)
	if err != nil {
		return err
	}
	fmt.Printf("retired %d stale draft(s)\n", len(removed))

	if cleanupRebuild {
		if err := janitor.FullRebuild(); err != nil {
			return err
		}
		fmt.Println("full snapshot rebuild complete")
	}

	return nil
}
