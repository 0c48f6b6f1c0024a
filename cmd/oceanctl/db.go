package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oceanvision/marine-catalog/internal/bootstrap"
	"github.com/oceanvision/marine-catalog/internal/infrastructure/persistence/postgres"
	"github.com/oceanvision/marine-catalog/internal/infrastructure/seed"
)

func newMigrateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withMigrator(cmd, func(m *postgres.Migrator) error {
					applied, err := m.Migrate(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", applied)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withMigrator(cmd, func(m *postgres.Migrator) error {
					if err := m.Rollback(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Rolled back the last migration")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withMigrator(cmd, func(m *postgres.Migrator) error {
					migrations, err := m.Status(cmd.Context())
					if err != nil {
						return err
					}
					if c.jsonOut {
						return printJSON(cmd.OutOrStdout(), migrations)
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
					for _, mig := range migrations {
						applied := "-"
						if mig.IsApplied {
							applied = formatTime(mig.AppliedAt)
						}
						fmt.Fprintf(w, "%d\t%s\t%s\n", mig.Version, mig.Name, applied)
					}
					return w.Flush()
				})
			},
		},
	)

	return cmd
}

// withMigrator connects without auto-migration so that the subcommand
// decides what runs.
func (c *cli) withMigrator(cmd *cobra.Command, fn func(*postgres.Migrator) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	db := cfg.Database
	db.AutoMigrate = false

	conn, err := bootstrap.OpenDatabase(cmd.Context(), db, c.log)
	if err != nil {
		return err
	}
	defer conn.Close()

	return fn(postgres.NewMigrator(conn))
}

func newSeedCmd(c *cli) *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the built-in species into PostgreSQL",
		Long: `Upsert the built-in species into the species table, applying pending
migrations first. With --replace every other row is removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			db := cfg.Database
			db.AutoMigrate = true

			records, err := seed.Records()
			if err != nil {
				return err
			}

			conn, err := bootstrap.OpenDatabase(cmd.Context(), db, c.log)
			if err != nil {
				return err
			}
			defer conn.Close()

			repo := postgres.NewSpeciesRepository(conn, cfg.Catalog.CacheTTL, c.log)
			n, err := repo.UpsertAll(cmd.Context(), records, replace)
			if err != nil {
				return err
			}
			total, err := repo.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d species (%d in table)\n", n, total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "delete species that are not in the built-in catalog")
	return cmd
}
