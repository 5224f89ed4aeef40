package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/shuv1337/shuvbot/internal/config"
	"github.com/shuv1337/shuvbot/internal/store"
	"github.com/shuv1337/shuvbot/internal/store/pg"
	"github.com/shuv1337/shuvbot/internal/store/sqlite"
	"github.com/shuv1337/shuvbot/internal/upgrade"
)

// openStores opens the pairing and route stores for the configured mode.
// Managed mode refuses to start against an incompatible schema unless
// SHUVBOT_AUTO_MIGRATE is set, in which case it migrates first.
func openStores(ctx context.Context, cfg *config.Config) (*store.Stores, error) {
	if !cfg.IsManagedMode() {
		path := config.ExpandHome(cfg.Database.SQLitePath)
		slog.Info("using sqlite store", "path", path)
		return sqlite.NewStores(path)
	}

	db, err := pg.OpenDB(cfg.Database.PostgresDSN)
	if err != nil {
		return nil, err
	}
	status, err := upgrade.CheckSchema(db)
	db.Close()
	if err != nil {
		return nil, fmt.Errorf("check schema: %w", err)
	}
	if schemaErr := status.Err(); schemaErr != nil {
		if !errors.Is(schemaErr, upgrade.ErrSchemaOutdated) || os.Getenv("SHUVBOT_AUTO_MIGRATE") != "true" {
			fmt.Fprint(os.Stderr, upgrade.FormatError(status))
			return nil, schemaErr
		}
		slog.Info("auto-migrating database schema", "from", status.CurrentVersion, "to", status.RequiredVersion)
		if _, err := upgrade.NewMigrator(cfg.Database.PostgresDSN, os.Getenv("SHUVBOT_MIGRATIONS_DIR")).Up(ctx); err != nil {
			return nil, err
		}
	}

	slog.Info("using postgres store")
	return pg.NewPGStores(cfg.Database.PostgresDSN)
}
