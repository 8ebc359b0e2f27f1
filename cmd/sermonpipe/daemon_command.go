package main

import (
	"github.com/spf13/cobra"

	"sermonpipe/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the sermonpipe daemon in the foreground",
		Long: "Run the HTTP API and the queue workers in the foreground until SIGINT or SIGTERM.\n" +
			"Use `sermonpipe start` to launch it in the background instead.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, ctx.daemonOptions())
		},
	}
}
