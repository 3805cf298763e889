package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds the global flags shared by every agent command.
type rootOptions struct {
	ConfigFile string
	LogLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Offline-first location agent",
		Long: `Captures device positions, stages them in a durable on-device queue and
uploads them in signed batches whenever the backend is reachable.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "configs/agent.yaml", "path to the agent configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newLocateCommand(opts))
	cmd.AddCommand(newClearQueueCommand(opts))

	return cmd
}
