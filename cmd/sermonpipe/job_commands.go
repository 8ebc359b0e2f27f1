package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"sermonpipe/internal/api"
	"sermonpipe/internal/docstore"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/queueaccess"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var flags payloadFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "submit [sermon-id]",
		Short: "Queue a sermon for processing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := flags.payload(cmd, args)
			if err != nil {
				return err
			}
			return ctx.withAccess(cmd, func(s queueaccess.Session) error {
				task, err := s.Access.Submit(cmd.Context(), payload)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, task)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s as task %d (%s)\n", task.JobID, task.ID, formatStatusLabel(task.Status))
				if !s.Remote {
					fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running; the job will start once it is")
				}
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the queued task as JSON")
	return cmd
}

func newJobCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "job <sermon-id>",
		Short: "Show the sermon status, live progress and task of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(s queueaccess.Session) error {
				job, err := s.Access.Job(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				printJob(cmd, job)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	return cmd
}

func printJob(cmd *cobra.Command, job *api.Job) {
	p := newStatusPrinter(cmd.OutOrStdout())
	now := time.Now()
	p.section("Job " + job.ID)
	if s := job.Sermon; s != nil {
		p.line("Title", statusInfo, s.Title)
		p.line("Audio", audioStatusKind(s.AudioStatus), formatStatusLabel(s.AudioStatus))
		if s.Message != "" {
			p.line("Message", statusInfo, s.Message)
		}
		if s.DurationSeconds != nil {
			p.line("Duration", statusInfo, formatDuration(s.DurationSeconds))
		}
	} else {
		p.line("Sermon", statusWarn, "No sermon document")
	}
	if job.Progress != nil {
		p.line("Progress", statusInfo, strconv.Itoa(*job.Progress)+"%")
	}
	if t := job.Task; t != nil {
		p.line("Task", taskStatusKind(t.Status), fmt.Sprintf("#%d %s, attempt %d/%d, updated %s",
			t.ID, formatStatusLabel(t.Status), t.Attempts, t.MaxAttempts, formatRelativeTime(t.UpdatedAt, now)))
		if t.ErrorMessage != "" {
			p.line("Error", statusError, fmt.Sprintf("%s (%s)", t.ErrorMessage, t.ErrorKind))
		}
	}
}

func audioStatusKind(status string) statusKind {
	switch docstore.AudioStatus(status) {
	case docstore.StatusProcessed:
		return statusOK
	case docstore.StatusError:
		return statusError
	case docstore.StatusProcessing, docstore.StatusPending:
		return statusWarn
	default:
		return statusInfo
	}
}

func taskStatusKind(status string) statusKind {
	switch queue.Status(status) {
	case queue.StatusCompleted:
		return statusOK
	case queue.StatusFailed:
		return statusError
	case queue.StatusRunning, queue.StatusPending:
		return statusWarn
	default:
		return statusInfo
	}
}

func newAbortCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "abort <sermon-id>",
		Short: "Abort a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(s queueaccess.Session) error {
				result, err := s.Access.Abort(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch result.Outcome {
				case api.AbortRequested:
					fmt.Fprintf(out, "Abort requested for %s (was %s)\n", result.JobID, result.PriorStatus)
				case api.AbortAlreadyFinished:
					fmt.Fprintf(out, "Job %s already finished (%s)\n", result.JobID, result.PriorStatus)
				case api.AbortNotFound:
					return fmt.Errorf("no task for job %s", result.JobID)
				}
				return nil
			})
		},
	}
}
