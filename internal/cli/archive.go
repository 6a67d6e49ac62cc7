package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/koustreak/recordbase/internal/changes"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/filestore/minio"
)

// NewArchiveCommand creates the archive command group.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect the change event archive",
	}
	cmd.AddCommand(newArchiveListCommand(rootOpts))
	return cmd
}

func newArchiveListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <table>",
		Short: "List archived event batches of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if cfg.Archive.Endpoint == "" {
				return errs.New(errs.ErrKindInvalidInput, "archive endpoint is not configured")
			}

			store, err := minio.New(cmd.Context(), cfg.FilestoreConfig())
			if err != nil {
				return err
			}
			defer store.Close()

			objects, err := changes.ListArchive(cmd.Context(), store, cfg.Archive.Bucket, args[0])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
			for _, o := range objects {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", o.Key, o.Size, o.LastModified.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}
