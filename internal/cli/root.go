// Package cli implements the pagekeeper command line.
package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rossigee/pagekeeper/internal/config"
	"github.com/rossigee/pagekeeper/internal/entities"
	"github.com/rossigee/pagekeeper/internal/files"
	"github.com/rossigee/pagekeeper/internal/minio"
	"github.com/rossigee/pagekeeper/internal/reader"
)

// Version is set at build time.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	DBPath  string

	cfg config.Config
}

// NewRootCommand creates the root command for the pagekeeper CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pagekeeper",
		Short: "pagekeeper - local store for saved pages",
		Long:  "Keeps saved pages, reading history and recent searches in a local SQLite store and serves them over HTTP.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.DBPath != "" {
				cfg.DBPath = opts.DBPath
			}
			if opts.Verbose {
				cfg.LogLevel = logrus.DebugLevel.String()
			}
			cfg.ConfigureLogging()
			opts.cfg = cfg
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "database path (overrides PAGEKEEPER_DB_PATH)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewClearSavedPagesCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pagekeeper %s\n", Version)
		},
	}
}

// newRemover builds the configured saved page file remover.
func newRemover(cfg config.Config) (files.Remover, error) {
	if cfg.FilesBackend != config.FilesMinIO {
		return files.NewLocal(cfg.SavedPagesDir), nil
	}

	client, err := minio.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	return minio.NewRemover(client, cfg.MinIOBucket, cfg.MinIOPrefix, cfg.Retry())
}

// openCore opens the store, registers the reader entities and migrates.
func openCore(ctx context.Context, cfg config.Config, base reader.Options) (*reader.Core, error) {
	remover, err := newRemover(cfg)
	if err != nil {
		return nil, err
	}

	base.DBPath = cfg.DBPath
	base.Files = remover
	base.PoolSize = cfg.PoolSize

	core, err := reader.Open(ctx, base)
	if err != nil {
		return nil, err
	}
	if err := entities.All(core.Registry()); err != nil {
		_ = core.Close(ctx)
		return nil, fmt.Errorf("failed to register entities: %w", err)
	}
	if err := core.Start(ctx); err != nil {
		_ = core.Close(ctx)
		return nil, err
	}
	return core, nil
}
