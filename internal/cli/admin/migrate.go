package admin

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/repokit/internal/provider"
	"github.com/spf13/cobra"
)

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Long:  "Apply the schema migrations of the configured provider. Providers without a schema are left untouched.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, _, err := environment(context.Background())
			if err != nil {
				return err
			}
			if err := provider.Migrate(ctx, cfg); err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied for provider %s\n", cfg.Provider)
			return nil
		},
	}
}
