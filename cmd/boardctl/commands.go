package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"kanban-api/domain"
)

func (a *app) listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the board, one column per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := domain.Filter{}
			status, _ := cmd.Flags().GetString("status")
			priority, _ := cmd.Flags().GetString("priority")
			f.Status = domain.Status(status)
			f.Priority = domain.Priority(priority)
			f.Assignee, _ = cmd.Flags().GetString("assignee")
			f.Tags, _ = cmd.Flags().GetStringSlice("tag")
			f.Search, _ = cmd.Flags().GetString("search")
			if err := f.Validate(); err != nil {
				return err
			}

			if err := a.store.Load(cmd.Context()); err != nil {
				return err
			}
			a.store.SetFilter(f)
			out := cmd.OutOrStdout()
			for _, st := range domain.Statuses {
				if f.Status != "" && st != f.Status {
					continue
				}
				renderColumn(out, st, a.store.TasksByStatus(st))
			}
			if tags := a.store.Tags(); len(tags) > 0 {
				fmt.Fprintf(out, "%s %s\n", dim("tags:"), strings.Join(tags, ", "))
			}
			if people := a.store.Assignees(); len(people) > 0 {
				fmt.Fprintf(out, "%s %s\n", dim("assignees:"), strings.Join(people, ", "))
			}
			return nil
		},
	}
	cmd.Flags().String("status", "", "only this column")
	cmd.Flags().String("priority", "", "filter by priority")
	cmd.Flags().String("assignee", "", "filter by assignee")
	cmd.Flags().StringSlice("tag", nil, "filter by tag (any of, repeatable)")
	cmd.Flags().String("search", "", "case-insensitive title search")
	return cmd
}

func (a *app) addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task at the end of its column",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := domain.CreateInput{Title: strings.Join(args, " ")}
			status, _ := cmd.Flags().GetString("status")
			priority, _ := cmd.Flags().GetString("priority")
			in.Status = domain.Status(status)
			in.Priority = domain.Priority(priority)
			in.Description, _ = cmd.Flags().GetString("description")
			in.Assignee, _ = cmd.Flags().GetString("assignee")
			in.Tags, _ = cmd.Flags().GetStringSlice("tag")

			task, err := a.store.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s in %s at %d\n", green("created"), bold(task.ID), task.Status, task.Position)
			return nil
		},
	}
	cmd.Flags().String("status", "", "initial column (default todo)")
	cmd.Flags().String("priority", "", "priority (default medium)")
	cmd.Flags().String("description", "", "short description")
	cmd.Flags().String("assignee", "", "assignee")
	cmd.Flags().StringSlice("tag", nil, "tag (repeatable)")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a task with its body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := a.client.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderTask(cmd.OutOrStdout(), task)
			return nil
		},
	}
}

func (a *app) moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <status> <position>",
		Short: "Move a task to a position in a column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			pos, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("position must be a number: %w", err)
			}
			if err := a.store.Load(cmd.Context()); err != nil {
				return err
			}
			if err := a.store.Move(cmd.Context(), args[0], st, pos); err != nil {
				return err
			}
			renderColumn(cmd.OutOrStdout(), st, a.store.TasksByStatus(st))
			return nil
		},
	}
}

func (a *app) reorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <status> <id>...",
		Short: "Set the full order of a column",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := domain.ParseStatus(args[0])
			if err != nil {
				return err
			}
			if err := a.store.Reorder(cmd.Context(), st, args[1:]); err != nil {
				return err
			}
			renderColumn(cmd.OutOrStdout(), st, a.store.TasksByStatus(st))
			return nil
		},
	}
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete tasks",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := a.store.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", red("deleted"), id)
			}
			return nil
		},
	}
}

func (a *app) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <id>",
		Short: "Generate an AI analysis for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, report, err := a.client.AnalyzeTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n\n", bold("analysis by"), cyan(report.Provider))
			fmt.Fprintln(out, report.Content)
			return nil
		},
	}
}
