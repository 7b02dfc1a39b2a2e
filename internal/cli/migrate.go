package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rossigee/pagekeeper/internal/entities"
	"github.com/rossigee/pagekeeper/internal/reader"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Long: `Create or upgrade the store schema for every entity type and exit.

Fails without touching the store if it was written by a newer build.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			core, err := openCore(ctx, rootOpts.cfg, reader.Options{})
			if err != nil {
				return err
			}
			defer closeCore(core, rootOpts.cfg.ShutdownTimeout)

			version, err := core.Store().Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "store %s at version %d\n", rootOpts.cfg.DBPath, version)
			return nil
		},
	}
}

// NewClearSavedPagesCommand creates the clear-saved-pages command.
func NewClearSavedPagesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-saved-pages",
		Short: "Delete every saved page and its files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			core, err := openCore(ctx, rootOpts.cfg, reader.Options{})
			if err != nil {
				return err
			}
			defer closeCore(core, rootOpts.cfg.ShutdownTimeout)

			deleted, err := reader.ClearAllAndPurge[entities.SavedPage](core, "", nil, reader.Named("clear-saved-pages")).Wait(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d saved pages\n", deleted)
			return nil
		},
	}
}

func closeCore(core *reader.Core, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = core.Close(ctx)
}
