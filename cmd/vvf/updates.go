package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/mantonx/vvf/internal/updates"
	"github.com/spf13/cobra"
)

func newUpdatesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "updates",
		Short: "Check GitHub releases for newer extension versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, log, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if err := a.Manager.Refresh(ctx); err != nil {
				return err
			}
			checker := a.Updates
			if checker == nil {
				checker = updates.NewChecker(a.Config.Updates.APIBase, a.HTTP, log)
			}
			found := checker.Check(ctx, a.Manager.KnownMetadata(ctx))
			if len(found) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "All extensions are up to date")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCURRENT\tLATEST\tDOWNLOAD")
			for _, u := range found {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Current, u.Latest, u.DownloadURL)
			}
			return w.Flush()
		},
	}
}
