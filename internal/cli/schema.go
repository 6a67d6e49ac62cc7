package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koustreak/recordbase/internal/logger"
	"github.com/koustreak/recordbase/internal/schema"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "schema [table]",
		Short: "Print exposed tables or a table's JSON Schema",
		Long: `Without arguments, list the tables the record API exposes. With a
table name, print its JSON Schema for the given mode.

Example:
  recordbase schema
  recordbase schema post --mode insert`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := schema.ParseMode(mode)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			db, reg, err := openRegistry(cmd.Context(), cfg, logger.Nop())
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, name := range reg.Tables() {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			desc, err := reg.Describe(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(schema.JSONSchema(desc, m))
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "select", "schema mode (insert|update|select)")
	return cmd
}
