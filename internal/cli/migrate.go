package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the record store schema",
		Long:  "Apply the embedded Postgres schema. Statements are idempotent, so migrate is safe to re-run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.Driver != "postgres" {
				return fmt.Errorf("migrate needs store.driver postgres, got %q", cfg.Store.Driver)
			}
			// opening a postgres store applies the schema
			b, err := openBackend(cmd.Context(), cfg, false)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer b.close()

			fmt.Fprintf(cmd.OutOrStdout(), "%s schema applied to %s/%s\n",
				color.New(color.FgGreen).Sprint("✓"), cfg.Database.Host, cfg.Database.Name)
			return nil
		},
	}
}
