package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sermonpipe/internal/config"
	"sermonpipe/internal/daemonrun"
	"sermonpipe/internal/preflight"
	"sermonpipe/internal/queue"
)

var checkColumns = []column{
	{header: "Check"},
	{header: "Result"},
	{header: "Detail"},
}

func newDepsCommand(ctx *commandContext) *cobra.Command {
	var backends bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check binaries, directories and optionally the configured backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results, err := runPreflight(cmd.Context(), ctx, cfg, backends)
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), renderTable(checkColumns, buildCheckRows(results), ""))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&backends, "backends", false, "Also connect to the queue, document store, bucket and progress channel")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the results as JSON")
	return cmd
}

func runPreflight(ctx context.Context, cc *commandContext, cfg *config.Config, withBackends bool) ([]preflight.Result, error) {
	if !withBackends {
		return preflight.RunAll(ctx, cfg, preflight.Backends{}), nil
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	stack, err := daemonrun.OpenStack(ctx, cfg, cc.commandLogger(cfg))
	if err != nil {
		return nil, err
	}
	defer stack.Close()
	return preflight.RunAll(ctx, cfg, preflight.Backends{
		Documents: stack.Documents,
		Progress:  stack.Progress,
		Queue:     store,
		Bucket:    stack.Bucket,
	}), nil
}

func buildCheckRows(results []preflight.Result) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "OK"
		if !r.Passed {
			status = "FAIL"
		}
		rows = append(rows, []string{r.Name, status, r.Detail})
	}
	return rows
}
