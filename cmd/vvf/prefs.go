package main

import (
	"context"
	"fmt"
	"strings"

	plugins "github.com/mantonx/vvf/sdk"
	"github.com/spf13/cobra"
)

func newEnableCommand(opts *rootOptions, enabled bool) *cobra.Command {
	use, short := "enable", "Enable an extension for a capability kind"
	if !enabled {
		use, short = "disable", "Disable an extension for a capability kind"
	}
	return &cobra.Command{
		Use:   use + " <kind> <id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := plugins.ParseCapabilityKind(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, _, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			rt, err := a.Manager.Runtime(kind)
			if err != nil {
				return err
			}
			if err := rt.SetEnabled(ctx, args[1], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd for %s\n", args[1], use, kind)
			return nil
		},
	}
}

func newPriorityCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "priority <kind> <id>...",
		Short: "Set the preferred order of extensions for a capability kind",
		Args:  cobra.MinimumNArgs(2),
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

			if err := rt.SetPriority(ctx, args[1:]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s priority: %s\n", kind, strings.Join(args[1:], ", "))
			printEntries(cmd.OutOrStdout(), rt.CurrentExtensions())
			return nil
		},
	}
}
