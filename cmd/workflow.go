package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adalundhe/inkwell/core/wherr"
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Manage draft branches",
}

var draftCreateCmd = &cobra.Command{
	Use:   "create <owner-id>",
	Short: "Create a draft branch for an owner",
	Args:  cobra.ExactArgs(1),
	RunE:  runDraftCreate,
}

var draftListCmd = &cobra.Command{
	Use:   "list [pattern]",
	Short: "List branches matching a glob pattern",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDraftList,
}

var publishCmd = &cobra.Command{
	Use:   "publish <branch>",
	Short: "Merge a draft into main if a dry run finds no conflicts",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublish,
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List drafts that currently conflict with main",
	RunE:  runConflicts,
}

func init() {
	draftCmd.AddCommand(draftCreateCmd)
	draftCmd.AddCommand(draftListCmd)
	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(conflictsCmd)
}

func runDraftCreate(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	name, err := a.engine.CreateDraft(args[0])
	if err != nil {
		return err
	}

	fmt.Println(name)
	return nil
}

func runDraftList(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	pattern := ""
	if len(args) == 1 {
		pattern = args[0]
	}

	names, err := a.engine.ListBranches(pattern)
	if err != nil {
		return err
	}

	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.engine.Publish(context.Background(),
		args[0], a.cfg.Remote.AutoPush)
	if wherr.IsConflict(err) {
		fmt.Printf("%d file(s) conflict with main:\n", len(result.Conflicts))
		for _, rec := range result.Conflicts {
			fmt.Printf("  %s (%s)\n", rec.Path, rec.Kind)
		}
		return err
	}
	if err != nil {
		return err
	}

	fmt.Printf("merged %s into main at %s\n", args[0], result.CommitID)
	return nil
}

func runConflicts(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	records, cached, err := a.engine.Conflicts()
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("no conflicting drafts")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BRANCH\tPATH\tKIND")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", rec.Branch, rec.Path, rec.Kind)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if cached {
		fmt.Println("(cached)")
	}
	return nil
}
