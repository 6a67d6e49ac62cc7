package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/logger"
	"github.com/koustreak/recordbase/internal/schema"
)

// OpenAPIOptions holds flags for the openapi command.
type OpenAPIOptions struct {
	Format  string
	Version string
}

// NewOpenAPICommand creates the openapi command.
func NewOpenAPICommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpenAPIOptions{}

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document of the record API",
		Long: `Print an OpenAPI 3.0 document covering every exposed table: list, read,
create, update, delete, schema and subscribe paths plus insert, update and
select record schemas.

Example:
  recordbase openapi > openapi.json
  recordbase openapi --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "json" && opts.Format != "yaml" {
				return errs.Newf(errs.ErrKindInvalidInput, "unknown format %q", opts.Format)
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

			var tables []*schema.TableDescriptor
			for _, name := range reg.Tables() {
				d, err := reg.Describe(name)
				if err != nil {
					return err
				}
				tables = append(tables, d)
			}

			doc := schema.OpenAPI("recordbase", opts.Version, tables)
			if err := doc.Validate(cmd.Context()); err != nil {
				return errs.Wrap(errs.ErrKindUnknown, "generated OpenAPI document is invalid", err)
			}

			out := cmd.OutOrStdout()
			if opts.Format == "yaml" {
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(doc); err != nil {
					return err
				}
				return enc.Close()
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "json", "output format (json|yaml)")
	cmd.Flags().StringVar(&opts.Version, "api-version", "v1", "info.version of the document")
	return cmd
}
