package main

import (
	"context"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/app"
	"github.com/mantonx/vvf/internal/config"
	"github.com/mantonx/vvf/internal/logger"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "vvf <command> [options]",
		Short: "Discover, load and manage media extensions",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("VVF_CONFIG_PATH"), "Path to a yaml or json config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newListCommand(opts))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newEnableCommand(opts, true))
	rootCmd.AddCommand(newEnableCommand(opts, false))
	rootCmd.AddCommand(newPriorityCommand(opts))
	rootCmd.AddCommand(newUpdatesCommand(opts))

	return rootCmd
}

func (o *rootOptions) load() error {
	if err := config.Load(o.configPath); err != nil {
		return err
	}
	cfg := config.Get()
	level := cfg.Logging.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger.SetDefault(logger.New(logger.Options{Level: level, Format: cfg.Logging.Format}))
	return nil
}

// openApp builds the application from the loaded config. Callers own Close.
func (o *rootOptions) openApp(ctx context.Context) (*app.App, hclog.Logger, error) {
	log := logger.Default()
	a, err := app.New(ctx, config.Get(), log)
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}
