package upgrade

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DataHookFunc runs once after the SQL migration for its schema version.
type DataHookFunc func(ctx context.Context, db *sql.DB) error

type dataHook struct {
	SchemaVersion uint
	Name          string
	Fn            DataHookFunc
}

var registry []dataHook

// RegisterDataHook registers a data hook for schemaVersion. Names must be
// unique; hooks for the same version run in registration order.
func RegisterDataHook(schemaVersion uint, name string, fn DataHookFunc) {
	registry = append(registry, dataHook{SchemaVersion: schemaVersion, Name: name, Fn: fn})
}

// PendingHooks returns the hooks at or below schemaVersion not yet applied.
func PendingHooks(ctx context.Context, db *sql.DB, schemaVersion uint) ([]string, error) {
	applied, err := appliedHooks(ctx, db)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, h := range registry {
		if h.SchemaVersion <= schemaVersion && !applied[h.Name] {
			pending = append(pending, h.Name)
		}
	}
	return pending, nil
}

// RunPendingHooks applies every pending hook at or below schemaVersion and
// records it in data_migrations. It stops at the first failure.
func RunPendingHooks(ctx context.Context, db *sql.DB, schemaVersion uint) (int, error) {
	applied, err := appliedHooks(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, h := range registry {
		if h.SchemaVersion > schemaVersion || applied[h.Name] {
			continue
		}

		slog.Info("running data hook", "name", h.Name, "schema_version", h.SchemaVersion)
		start := time.Now()
		if err := h.Fn(ctx, db); err != nil {
			return count, fmt.Errorf("data hook %q failed: %w", h.Name, err)
		}
		if _, err := db.ExecContext(ctx,
			"INSERT INTO data_migrations (name, version, applied_at) VALUES ($1, $2, NOW())",
			h.Name, h.SchemaVersion,
		); err != nil {
			return count, fmt.Errorf("record hook %q: %w", h.Name, err)
		}
		slog.Info("data hook complete", "name", h.Name, "duration", time.Since(start))
		count++
	}
	return count, nil
}

func ensureHookTable(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS data_migrations (
			name       VARCHAR(255) PRIMARY KEY,
			version    INT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("ensure data_migrations table: %w", err)
	}
	return nil
}

func appliedHooks(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	if err := ensureHookTable(ctx, db); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT name FROM data_migrations")
	if err != nil {
		return nil, fmt.Errorf("query data_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
