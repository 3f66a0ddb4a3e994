package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/samims/keepsake/internal/storage"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the processor's tables",
		Long: `Apply the embedded schema. Every statement is idempotent, so running it
against an existing database only adds the lease, retry and run-ledger
columns and tables that are missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			pool, err := storage.NewPostgresPool(cmd.Context(), cfg.DBConfig)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := storage.ApplySchema(cmd.Context(), pool); err != nil {
				return fmt.Errorf("migrate failed: %w", err)
			}
			l.Info("Schema applied")
			return nil
		},
	}
}
