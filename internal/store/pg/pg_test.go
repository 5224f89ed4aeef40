package pg

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/golang-migrate/migrate/v4"

	"github.com/shuv1337/shuvbot/internal/store"
)

// openTestDB migrates a scratch database named by SHUVBOT_TEST_POSTGRES_DSN.
// The tables are dropped afterwards, so point it at a throwaway database.
func openTestDB(t *testing.T) *store.Stores {
	t.Helper()
	dsn := os.Getenv("SHUVBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SHUVBOT_TEST_POSTGRES_DSN not set")
	}

	m, err := NewMigrator(dsn, "")
	if err != nil {
		t.Fatalf("NewMigrator: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
	v, _, err := m.Version()
	if err != nil || v != RequiredSchemaVersion {
		t.Fatalf("schema version = %d, %v; want %d", v, err, RequiredSchemaVersion)
	}

	stores, err := NewPGStores(dsn)
	if err != nil {
		t.Fatalf("NewPGStores: %v", err)
	}
	t.Cleanup(func() {
		stores.Close()
		m.Down()
		m.Close()
	})
	return stores
}

func TestPGPairingLifecycle(t *testing.T) {
	stores := openTestDB(t)
	ctx := context.Background()

	code, created, err := stores.Pairing.UpsertPairingRequest(ctx, "signal", "default", "+15551111111")
	if err != nil || !created || len(code) != store.PairingCodeLength {
		t.Fatalf("first upsert = %q, %v, %v", code, created, err)
	}
	again, created, err := stores.Pairing.UpsertPairingRequest(ctx, "signal", "default", "+15551111111")
	if err != nil || created || again != code {
		t.Fatalf("second upsert = %q, %v, %v", again, created, err)
	}

	if _, err := stores.Pairing.ApprovePairing(ctx, "signal", "NOPE1234"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("approve unknown: %v", err)
	}
	if _, err := stores.Pairing.ApprovePairing(ctx, "signal", code); err != nil {
		t.Fatalf("ApprovePairing: %v", err)
	}
	allow, err := stores.Pairing.ReadAllowFrom(ctx, "signal", "default")
	if err != nil || len(allow) != 1 || allow[0] != "+15551111111" {
		t.Fatalf("ReadAllowFrom = %v, %v", allow, err)
	}
}

func TestPGLastRoute(t *testing.T) {
	stores := openTestDB(t)
	ctx := context.Background()

	if _, err := stores.Routes.LastRoute(ctx, "signal", "default"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("empty LastRoute err = %v", err)
	}
	r := store.LastRoute{Channel: "signal", AccountID: "default", PeerKind: "group", ChatID: "G", SenderID: "+2", Key: "signal:default:group:G"}
	if err := stores.Routes.UpdateLastRoute(ctx, r); err != nil {
		t.Fatalf("UpdateLastRoute: %v", err)
	}
	got, err := stores.Routes.LastRoute(ctx, "signal", "default")
	if err != nil || got.ChatID != "G" || got.Key != r.Key {
		t.Fatalf("LastRoute = %+v, %v", got, err)
	}
}
