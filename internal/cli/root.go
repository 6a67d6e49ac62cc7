// Package cli implements the recordbase command line.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "recordbase",
		Short: "Embedded application-data server",
		Long: `recordbase serves the tables of a relational database as a record API
with filtering, cursor pagination, relation expansion and live change
subscriptions.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewOpenAPICommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewArchiveCommand(opts))

	return cmd
}
