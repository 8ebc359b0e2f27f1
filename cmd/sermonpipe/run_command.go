package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sermonpipe/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags payloadFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run [sermon-id]",
		Short: "Process one sermon in the foreground without the queue",
		Long: "Run the full pipeline for a single payload in this process, bounded by the\n" +
			"configured deadline budget. Progress is kept in memory.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := flags.payload(cmd, args)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := daemonrun.NewLogger(cfg, ctx.daemonOptions())
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			result, err := daemonrun.RunOnce(runCtx, cfg, payload, logger)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %s -> %s (%s)\n", result.JobID, result.OutputKey, formatDuration(&result.DurationSeconds))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}
