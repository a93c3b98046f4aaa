package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/mantonx/vvf/internal/app"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	plugins "github.com/mantonx/vvf/sdk"
	"github.com/spf13/cobra"
)

func newListCommand(opts *rootOptions) *cobra.Command {
	var (
		all    bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List the active extensions of a capability kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := plugins.ParseCapabilityKind(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, rt, err := scannedRuntime(ctx, opts, kind)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			entries := rt.CurrentExtensions()
			if all {
				entries = rt.Known(ctx)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include disabled and failed extensions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// scannedRuntime opens the app and waits for one full scan of kind.
func scannedRuntime(ctx context.Context, opts *rootOptions, kind plugins.CapabilityKind) (*app.App, *pluginmodule.Runtime, error) {
	a, _, err := opts.openApp(ctx)
	if err != nil {
		return nil, nil, err
	}
	rt, err := a.Manager.Runtime(kind)
	if err != nil {
		a.Close(ctx)
		return nil, nil, err
	}
	if err := rt.Refresh(ctx); err != nil {
		a.Close(ctx)
		return nil, nil, err
	}
	return a, rt, nil
}

func printEntries(out io.Writer, entries []pluginmodule.Entry) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tID\tNAME\tVERSION\tORIGIN\tENABLED\tSTATE\tCAPABILITIES")
	for _, e := range entries {
		rank := "-"
		if e.Rank >= 0 {
			rank = strconv.Itoa(e.Rank)
		}
		kinds := make([]string, len(e.Metadata.Capabilities))
		for i, k := range e.Metadata.Capabilities {
			kinds[i] = string(k)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			rank, e.Metadata.ID, e.Metadata.Name, e.Metadata.Version, e.Metadata.Origin,
			e.Metadata.Enabled, e.State, strings.Join(kinds, ","))
	}
	w.Flush()
}
