package command

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	migrator "github.com/Maksumys/schema-migrator"
)

func newStatusCommand(r *runner) *cobra.Command {
	var target int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: r.withDatabase(func(cmd *cobra.Command, args []string) error {
			if target <= 0 {
				target = r.coordinator.LatestVersion()
			}

			status, err := r.coordinator.StatusAt(cmd.Context(), target)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			printStatus(cmd.OutOrStdout(), status)
			return nil
		}),
	}

	cmd.Flags().IntVar(&target, "to", 0, "target version (default: latest)")
	return cmd
}

func printStatus(w io.Writer, status migrator.Status) {
	if !status.Registered {
		fmt.Fprintf(w, "schema %s: not registered, migrate will create it at the latest version\n", status.Schema)
		return
	}

	fmt.Fprintf(w, "schema %s: version %d, target %d\n", status.Schema, status.Current, status.Target)
	if status.Locked {
		if status.LockedAt != nil {
			fmt.Fprintf(w, "locked since %s\n", status.LockedAt.UTC().Format("2006-01-02 15:04:05Z07:00"))
		} else {
			fmt.Fprintln(w, "locked")
		}
	}
	if len(status.Pending) == 0 {
		fmt.Fprintln(w, "up to date")
		return
	}
	fmt.Fprintf(w, "pending: %v\n", status.Pending)
	if len(status.Missing) > 0 {
		fmt.Fprintf(w, "missing steps: %v\n", status.Missing)
	}
}
