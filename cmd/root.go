// Package cmd provides the inkwell CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Inkwell - a branch-based content workflow engine",
	Long: `Inkwell lets many writers stage edits on isolated draft branches,
publish them into a canonical line of history with conflict detection,
synchronize with a remote, and export atomic read-optimized snapshots.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		"inkwell.yaml", "path to the configuration file")
}

func Execute() error {
	return rootCmd.Execute()
}
