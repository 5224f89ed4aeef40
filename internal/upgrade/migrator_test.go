package upgrade

import (
	"context"
	"os"
	"testing"

	"github.com/shuv1337/shuvbot/internal/store/pg"
)

// TestMigratorLifecycle runs against the scratch database named by
// SHUVBOT_TEST_POSTGRES_DSN; every table is dropped afterwards.
func TestMigratorLifecycle(t *testing.T) {
	dsn := os.Getenv("SHUVBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SHUVBOT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	m := NewMigrator(dsn, "")
	t.Cleanup(func() {
		m.Down(ctx, int(RequiredSchemaVersion))
		if db, err := pg.OpenDB(dsn); err == nil {
			db.Exec("DROP TABLE IF EXISTS data_migrations")
			db.Close()
		}
	})

	hooks, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if hooks != len(registry) {
		t.Fatalf("Up applied %d hooks, want %d", hooks, len(registry))
	}
	s, pending, err := m.Status(ctx)
	if err != nil || !s.Compatible || len(pending) != 0 {
		t.Fatalf("Status after Up = %+v, %v, %v", s, pending, err)
	}
	if hooks, err := m.Up(ctx); err != nil || hooks != 0 {
		t.Fatalf("second Up = %d, %v; want no-op", hooks, err)
	}

	v, err := m.Down(ctx, 1)
	if err != nil || v != RequiredSchemaVersion-1 {
		t.Fatalf("Down = %d, %v", v, err)
	}
	s, pending, err = m.Status(ctx)
	if err != nil || !s.NeedsMigration {
		t.Fatalf("Status after Down = %+v, %v", s, err)
	}
	for _, name := range pending {
		t.Errorf("hook %q pending at v%d; hooks above the rolled-back version are not runnable", name, v)
	}

	// Hooks forgotten by the rollback replay on the next Up.
	if hooks, err := m.Up(ctx); err != nil || hooks == 0 {
		t.Fatalf("Up after Down = %d, %v; want replayed hooks", hooks, err)
	}

	if _, err := m.Repair(ctx); err == nil {
		t.Fatal("Repair on a clean schema should fail")
	}
}
