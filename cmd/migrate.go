package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shuv1337/shuvbot/internal/config"
	"github.com/shuv1337/shuvbot/internal/upgrade"
)

var migrationsDir string

// schemaMigrator builds the managed-mode migrator from the loaded config.
// The DSN is a secret and only ever comes from SHUVBOT_POSTGRES_DSN; an
// on-disk migrations directory comes from --migrations-dir or
// SHUVBOT_MIGRATIONS_DIR, else the embedded migrations are used.
func schemaMigrator() (*upgrade.Migrator, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.IsManagedMode() {
		return nil, fmt.Errorf("no postgres configured (set SHUVBOT_POSTGRES_DSN); the sqlite store needs no migrations")
	}
	dir := migrationsDir
	if dir == "" {
		dir = os.Getenv("SHUVBOT_MIGRATIONS_DIR")
	}
	return upgrade.NewMigrator(cfg.Database.PostgresDSN, dir), nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema used by the pairing and route stores",
	}
	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "migrations directory (default: embedded, or $SHUVBOT_MIGRATIONS_DIR)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Bring the schema to the version this binary needs and run data hooks",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := schemaMigrator()
				if err != nil {
					return err
				}
				hooks, err := m.Up(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema at v%d, %d data hook(s) applied\n", upgrade.RequiredSchemaVersion, hooks)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the schema version and pending data hooks",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := schemaMigrator()
				if err != nil {
					return err
				}
				s, pending, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				printSchemaStatus(cmd.OutOrStdout(), s, pending)
				return nil
			},
		},
		migrateDownCmd(),
		&cobra.Command{
			Use:   "repair",
			Short: "Clear the dirty flag left by a failed migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := schemaMigrator()
				if err != nil {
					return err
				}
				v, err := m.Repair(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema marked clean at v%d; run `shuvbot migrate up` to retry\n", v)
				return nil
			},
		},
	)
	return cmd
}

func migrateDownCmd() *cobra.Command {
	var steps int
	var yes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll the schema back; pending pairing requests and routes in dropped tables are lost",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("rolling back drops stored data; pass --yes to confirm")
			}
			m, err := schemaMigrator()
			if err != nil {
				return err
			}
			v, err := m.Down(cmd.Context(), steps)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at v%d (binary requires v%d)\n", v, upgrade.RequiredSchemaVersion)
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of versions to roll back")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the rollback")
	return cmd
}

func printSchemaStatus(w io.Writer, s *upgrade.SchemaStatus, pending []string) {
	state := "ok"
	switch {
	case s.Dirty:
		state = "dirty"
	case s.NeedsMigration:
		state = "outdated"
	case !s.Compatible:
		state = "ahead of binary"
	}
	fmt.Fprintf(w, "schema:  v%d (binary requires v%d), %s\n", s.CurrentVersion, s.RequiredVersion, state)
	if len(pending) == 0 {
		fmt.Fprintln(w, "hooks:   none pending")
		return
	}
	fmt.Fprintf(w, "hooks:   %s\n", strings.Join(pending, ", "))
}
