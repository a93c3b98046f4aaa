package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run discovery and the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, log, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := a.Close(shutdownCtx); err != nil {
					log.Warn("shutdown incomplete", "error", err)
				}
				log.Info("shutdown complete")
			}()

			if err := a.Start(ctx); err != nil {
				return err
			}
			srv, err := a.Server()
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
