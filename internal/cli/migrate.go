package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldsync/backend/internal/db"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
)

type migrateView struct {
	Version    int            `json:"version"`
	RolledBack int            `json:"rolledBack,omitempty"`
	Applied    []db.Migration `json:"applied"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	var (
		down bool
		yes  bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Show or roll back the database schema",
		Long: `Show the applied schema migrations. Opening the database applies any
pending ones.

  --down --yes   roll back the newest migration, e.g. before installing an
                 older release. Rolled back tables lose their rows.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Ephemeral {
				return fmt.Errorf("migrate needs the database; drop --ephemeral")
			}
			if down && !yes {
				return fmt.Errorf("refusing to roll back the schema without --yes")
			}

			database, err := db.Open(opts.config.Database.Path)
			if err != nil {
				return errors.Wrap(errors.ErrDatabase, "failed to open database", err)
			}
			defer database.Close()

			m := db.NewMigrator(database.DB, db.Migrations)
			view := migrateView{}
			if down {
				if view.RolledBack, err = m.CurrentVersion(); err != nil {
					return errors.Wrap(errors.ErrDatabase, "failed to read schema version", err)
				}
				if err := m.Down(); err != nil {
					return errors.Wrap(errors.ErrDatabase, "rollback failed", err)
				}
			}
			if view.Version, err = m.CurrentVersion(); err != nil {
				return errors.Wrap(errors.ErrDatabase, "failed to read schema version", err)
			}
			if view.Applied, err = m.GetAppliedMigrations(); err != nil {
				return errors.Wrap(errors.ErrDatabase, "failed to list migrations", err)
			}
			if view.Applied == nil {
				view.Applied = []db.Migration{}
			}

			out := NewOutputFormatter(opts.Format, cmd.OutOrStdout())
			if out.IsJSON() {
				return out.JSON(view)
			}
			if down {
				out.Printf("Rolled back V%d\n", view.RolledBack)
			}
			out.Printf("Schema version: %d\n", view.Version)
			tw := tabwriter.NewWriter(out.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tDESCRIPTION\tAPPLIED")
			for _, mig := range view.Applied {
				fmt.Fprintf(tw, "V%d\t%s\t%s\n", mig.Version, mig.Description, mig.AppliedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll back the newest migration")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the rollback")
	return cmd
}
