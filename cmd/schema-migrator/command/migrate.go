package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(r *runner) *cobra.Command {
	var target int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Initialize the schema and apply pending migrations",
		Long: `Migrate registers the schema on first run, creating it directly at the
latest known version, and then applies pending steps up to --to
(default: the latest registered step).

Example:
  schema-migrator migrate
  schema-migrator migrate --to 5`,
		Args: cobra.NoArgs,
		RunE: r.withDatabase(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := r.coordinator.Init(ctx); err != nil {
				return fmt.Errorf("init: %w", err)
			}

			var err error
			if target > 0 {
				err = r.coordinator.MigrateToVersion(ctx, target)
			} else {
				err = r.coordinator.MigrateLatest(ctx)
			}
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "schema %s at version %d\n", r.coordinator.Name(), r.coordinator.Version())
			return nil
		}),
	}

	cmd.Flags().IntVar(&target, "to", 0, "target version (default: latest)")
	return cmd
}
