package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nxclaw/nxclaw/internal/objectives"
)

// buildObjectiveCmd creates the "objective" command group for the
// standing-objective queue the autonomous loop draws from.
func buildObjectiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "objective",
		Aliases: []string{"obj"},
		Short:   "Manage standing objectives",
		Long: `Objectives are durable work items the autonomous loop picks up
when it has spare capacity. Higher priority runs first; equal
priority runs least-recently-attempted first.`,
	}
	cmd.AddCommand(
		buildObjectiveAddCmd(),
		buildObjectiveListCmd(),
		buildObjectiveUpdateCmd(),
	)
	return cmd
}

func openObjectiveStore() (*objectives.Store, error) {
	paths, err := openWorkspace()
	if err != nil {
		return nil, err
	}
	return objectives.NewStore(paths.ObjectivesFile(), slog.Default())
}

func buildObjectiveAddCmd() *cobra.Command {
	var (
		description string
		priority    int
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a new objective",
		Args:  cobra.MinimumNArgs(1),
		Example: `  nxclaw objective add "Summarize overnight alerts" --priority 8
  nxclaw objective add "Tidy inbox" --description "Archive anything older than a week"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openObjectiveStore()
			if err != nil {
				return err
			}
			obj, err := store.Add(objectives.AddInput{
				Title:       strings.Join(args, " "),
				Description: description,
				Priority:    priority,
				Source:      "cli",
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added objective %s: %s (priority %d)\n", obj.ID, obj.Title, obj.Priority)
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "Longer description of the objective")
	cmd.Flags().IntVar(&priority, "priority", 5, "Priority 1-10 (higher runs first)")
	return cmd
}

func buildObjectiveListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List objectives",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openObjectiveStore()
			if err != nil {
				return err
			}
			list := store.List(objectives.Status(status))
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No objectives.")
				return nil
			}
			for _, obj := range list {
				fmt.Fprintf(out, "%s  [%-11s] p%-2d  %s\n", obj.ID, obj.Status, obj.Priority, obj.Title)
				if obj.RunCount > 0 {
					fmt.Fprintf(out, "%s  runs=%d last=%s\n", strings.Repeat(" ", len(obj.ID)), obj.RunCount, obj.LastRunAt.Format("2006-01-02 15:04"))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, in_progress, blocked, completed, failed, cancelled)")
	return cmd
}

func buildObjectiveUpdateCmd() *cobra.Command {
	var (
		id     string
		status string
		note   string
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update an objective's status or add a note",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			store, err := openObjectiveStore()
			if err != nil {
				return err
			}
			obj, err := store.Update(objectives.UpdateInput{
				ID:     id,
				Status: objectives.Status(status),
				Note:   note,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s: %s [%s]\n", obj.ID, obj.Title, obj.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Objective ID (required)")
	cmd.Flags().StringVar(&status, "status", "", "New status")
	cmd.Flags().StringVar(&note, "note", "", "Append a progress note")
	return cmd
}
