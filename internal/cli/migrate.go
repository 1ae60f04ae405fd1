package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watzon/hookd/internal/database"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply the embedded event store migrations for the configured driver.

Examples:
  hookd migrate          Apply pending migrations
  hookd migrate status   Show applied and pending migrations`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openWithoutMigrate(root)
			if err != nil {
				return err
			}
			defer db.Close()

			before, err := db.MigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}

			applied := 0
			for _, m := range before {
				if !m.Applied {
					fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", m.ID)
					applied++
				}
			}
			if applied == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openWithoutMigrate(root)
			if err != nil {
				return err
			}
			defer db.Close()

			statuses, err := db.MigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, m := range statuses {
				if m.Applied {
					fmt.Fprintf(out, "  ✓ %s (applied %s)\n", m.ID, m.AppliedAt.Format("2006-01-02 15:04:05"))
				} else {
					fmt.Fprintf(out, "  ✗ %s (pending)\n", m.ID)
				}
			}
			return nil
		},
	})

	return cmd
}

func openWithoutMigrate(root *rootOptions) (*database.DB, error) {
	dbCfg := root.cfg.Database
	dbCfg.AutoMigrate = false

	db, err := database.Open(&dbCfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
