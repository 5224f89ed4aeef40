package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"

	"github.com/shuv1337/shuvbot/internal/store/pg"
)

// Migrator moves the managed-mode schema between versions and keeps the
// data hooks in step with it. Every operation checks the schema gate first,
// so a dirty or newer-than-binary schema is never migrated over.
type Migrator struct {
	dsn string
	dir string // "" = migrations embedded in the binary
}

// NewMigrator creates a migrator for dsn. dir overrides the embedded
// migrations with an on-disk directory.
func NewMigrator(dsn, dir string) *Migrator {
	return &Migrator{dsn: dsn, dir: dir}
}

// Status reports the schema status and the data hooks still pending at the
// current version.
func (m *Migrator) Status(ctx context.Context) (*SchemaStatus, []string, error) {
	db, err := pg.OpenDB(m.dsn)
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	s, err := CheckSchema(db)
	if err != nil {
		return nil, nil, err
	}
	pending, err := PendingHooks(ctx, db, s.CurrentVersion)
	if err != nil {
		return s, nil, err
	}
	return s, pending, nil
}

// Up migrates to RequiredSchemaVersion, never beyond it even when the
// migrations directory carries newer files, then runs the pending data
// hooks. It returns the number of hooks applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	s, _, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}
	if s.Dirty || s.CurrentVersion > s.RequiredVersion {
		return 0, s.Err()
	}

	if !s.Compatible {
		mg, err := pg.NewMigrator(m.dsn, m.dir)
		if err != nil {
			return 0, err
		}
		defer mg.Close()
		if err := mg.Migrate(RequiredSchemaVersion); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return 0, fmt.Errorf("migrate to v%d: %w", RequiredSchemaVersion, err)
		}
		slog.Info("schema migrated", "from", s.CurrentVersion, "to", RequiredSchemaVersion)
	}
	return m.runHooks(ctx, RequiredSchemaVersion)
}

// Down rolls the schema back by steps versions (at least one, at most to an
// empty schema). Data hooks recorded above the resulting version are
// forgotten so the next Up replays them against the re-created tables.
func (m *Migrator) Down(ctx context.Context, steps int) (uint, error) {
	s, _, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}
	if s.Dirty {
		return s.CurrentVersion, ErrSchemaDirty
	}
	steps = clampSteps(steps, s.CurrentVersion)
	if steps == 0 {
		return 0, nil
	}

	mg, err := pg.NewMigrator(m.dsn, m.dir)
	if err != nil {
		return 0, err
	}
	defer mg.Close()
	if err := mg.Steps(-steps); err != nil {
		return 0, fmt.Errorf("roll back %d step(s): %w", steps, err)
	}
	version := s.CurrentVersion - uint(steps)

	if err := m.forgetHooksAbove(ctx, version); err != nil {
		return version, err
	}
	slog.Info("schema rolled back", "from", s.CurrentVersion, "to", version)
	return version, nil
}

// Repair clears the dirty flag a failed migration leaves behind by marking
// the last fully applied version as current. The failed migration must be
// cleaned up by hand first if it partially applied; Up then retries it.
func (m *Migrator) Repair(ctx context.Context) (uint, error) {
	s, _, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}
	if !s.Dirty {
		return s.CurrentVersion, fmt.Errorf("schema v%d is not dirty; nothing to repair", s.CurrentVersion)
	}

	mg, err := pg.NewMigrator(m.dsn, m.dir)
	if err != nil {
		return 0, err
	}
	defer mg.Close()
	if err := mg.Force(repairTarget(s.CurrentVersion)); err != nil {
		return 0, fmt.Errorf("mark v%d clean: %w", s.CurrentVersion-1, err)
	}
	slog.Warn("dirty schema reset", "failed_version", s.CurrentVersion, "now", s.CurrentVersion-1)
	return s.CurrentVersion - 1, nil
}

func (m *Migrator) runHooks(ctx context.Context, version uint) (int, error) {
	db, err := pg.OpenDB(m.dsn)
	if err != nil {
		return 0, fmt.Errorf("connect for data hooks: %w", err)
	}
	defer db.Close()
	return RunPendingHooks(ctx, db, version)
}

func (m *Migrator) forgetHooksAbove(ctx context.Context, version uint) error {
	db, err := pg.OpenDB(m.dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := ensureHookTable(ctx, db); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM data_migrations WHERE version > $1", version)
	if err != nil {
		return fmt.Errorf("forget data hooks above v%d: %w", version, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("data hooks will re-run on next upgrade", "count", n)
	}
	return nil
}

// clampSteps bounds a rollback to [1, current]; an empty schema has nothing
// to roll back.
func clampSteps(steps int, current uint) int {
	if current == 0 {
		return 0
	}
	return min(max(steps, 1), int(current))
}

// repairTarget is the version to force after migration v failed: v-1, or
// no version at all when the very first migration failed.
func repairTarget(v uint) int {
	if v <= 1 {
		return -1 // migrate.NilVersion
	}
	return int(v) - 1
}
