package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"sermonpipe/internal/api"
	"sermonpipe/internal/queueaccess"
)

const defaultPruneAge = 7 * 24 * time.Hour

func newTasksCommand(ctx *commandContext) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"queue", "jobs"},
		Short:   "Inspect and manage the task queue",
	}
	tasksCmd.AddCommand(newTasksListCommand(ctx))
	tasksCmd.AddCommand(newTasksStatsCommand(ctx))
	tasksCmd.AddCommand(newTasksRetryCommand(ctx))
	tasksCmd.AddCommand(newTasksPruneCommand(ctx))
	return tasksCmd
}

func newTasksListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			return ctx.withAccess(cmd, func(s queueaccess.Session) error {
				tasks, err := s.Access.Tasks(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.TaskListResponse{Tasks: tasks})
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(taskColumns, buildTaskRows(tasks, time.Now()), fmt.Sprintf("%d tasks", len(tasks))))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, running, completed, failed, cancelled)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print tasks as JSON")
	return cmd
}

func newTasksStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(s queueaccess.Session) error {
				stats, err := s.Access.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if totalCount(stats) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(statsColumns, buildStatsRows(stats), ""))
				return nil
			})
		},
	}
}

func newTasksRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [task-id...]",
		Short: "Return failed tasks to the queue (all failed tasks when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withAccess(cmd, func(s queueaccess.Session) error {
				result, err := s.Access.Retry(cmd.Context(), ids)
				if err != nil {
					return err
				}
				printRetryResult(cmd.OutOrStdout(), result, len(ids) == 0)
				return nil
			})
		},
	}
}

func printRetryResult(out io.Writer, result *api.RetryTasksResult, all bool) {
	if all {
		fmt.Fprintf(out, "%d failed tasks returned to the queue\n", result.UpdatedCount)
		return
	}
	for _, task := range result.Tasks {
		switch task.Outcome {
		case api.RetryTaskNotFound:
			fmt.Fprintf(out, "Task %d not found\n", task.ID)
		case api.RetryTaskNotFailed:
			fmt.Fprintf(out, "Task %d is not failed (only failed tasks can be retried)\n", task.ID)
		case api.RetryTaskUpdated:
			fmt.Fprintf(out, "Task %d returned to the queue\n", task.ID)
		}
	}
}

func newTasksPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished tasks older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(s queueaccess.Session) error {
				result, err := s.Access.Prune(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finished tasks older than %s\n", result.RemovedCount, olderThan)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", defaultPruneAge, "Minimum age of the finished tasks to delete")
	return cmd
}
