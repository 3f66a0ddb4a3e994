package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel string
}

// NewRootCommand creates the root command for the keepsake processor.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "keepsake",
		Short: "Scheduled keepsake delivery processor",
		Long: `Delivers time-delayed keepsakes to their recipients once their delivery
moment arrives, and tells each owner how the delivery went.

Configuration is read from the environment, or from a .env file in the
working directory.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}
