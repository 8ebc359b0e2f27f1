package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sermonpipe/internal/api"
	"sermonpipe/internal/queueaccess"
)

func newSermonCommand(ctx *commandContext) *cobra.Command {
	sermonCmd := &cobra.Command{
		Use:   "sermon",
		Short: "Manage sermon documents",
	}
	sermonCmd.AddCommand(newSermonPutCommand(ctx))
	sermonCmd.AddCommand(newSermonListCommand(ctx))
	return sermonCmd
}

func newSermonPutCommand(ctx *commandContext) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "put <sermon-id>",
		Short: "Create a sermon document or update its title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(s queueaccess.Session) error {
				sermon, err := s.Access.PutSermon(cmd.Context(), args[0], api.SermonInput{Title: title})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved sermon %s (%q)\n", sermon.ID, sermon.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Sermon title")
	return cmd
}

func newSermonListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recently updated sermons",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(s queueaccess.Session) error {
				sermons, err := s.Access.Sermons(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.SermonListResponse{Sermons: sermons})
				}
				if len(sermons) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sermons")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(sermonColumns, buildSermonRows(sermons, time.Now()), ""))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of sermons to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sermons as JSON")
	return cmd
}
