// Package sqlite implements the pairing and route stores on a local SQLite
// file (standalone mode).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/shuv1337/shuvbot/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS pairing_requests (
	id         TEXT PRIMARY KEY,
	channel    TEXT NOT NULL,
	account_id TEXT NOT NULL,
	sender_id  TEXT NOT NULL,
	code       TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	last_seen  INTEGER NOT NULL,
	UNIQUE (channel, account_id, sender_id)
);
CREATE TABLE IF NOT EXISTS allow_from (
	channel     TEXT NOT NULL,
	account_id  TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	approved_at INTEGER NOT NULL,
	PRIMARY KEY (channel, account_id, sender_id)
);
CREATE TABLE IF NOT EXISTS last_routes (
	channel    TEXT NOT NULL,
	account_id TEXT NOT NULL,
	peer_kind  TEXT NOT NULL,
	chat_id    TEXT NOT NULL,
	sender_id  TEXT NOT NULL,
	route_key  TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (channel, account_id)
);
CREATE INDEX IF NOT EXISTS idx_pairing_requests_created_at ON pairing_requests(created_at);
`

// Store implements store.PairingStore and store.RouteStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent accounts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// NewStores opens the database at path and bundles it as store.Stores.
func NewStores(path string) (*store.Stores, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	return store.NewStores(s, s, s.Close), nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) cutoff() int64 {
	return s.now().Add(-store.PairingPendingTTL).UnixMilli()
}

// ReadAllowFrom returns approved senders, oldest approval first.
func (s *Store) ReadAllowFrom(ctx context.Context, channel, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sender_id FROM allow_from
		WHERE channel = ? AND account_id = ?
		ORDER BY approved_at, sender_id
	`, channel, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allow_from: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertPairingRequest implements store.PairingStore.
func (s *Store) UpsertPairingRequest(ctx context.Context, channel, accountID, senderID string) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `DELETE FROM pairing_requests WHERE created_at < ?`, s.cutoff()); err != nil {
		return "", false, fmt.Errorf("failed to prune pairing requests: %w", err)
	}

	var code string
	err = tx.QueryRowContext(ctx, `
		SELECT code FROM pairing_requests
		WHERE channel = ? AND account_id = ? AND sender_id = ?
	`, channel, accountID, senderID).Scan(&code)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `
			UPDATE pairing_requests SET last_seen = ?
			WHERE channel = ? AND account_id = ? AND sender_id = ?
		`, now, channel, accountID, senderID); err != nil {
			return "", false, fmt.Errorf("failed to touch pairing request: %w", err)
		}
		return code, false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, fmt.Errorf("failed to query pairing request: %w", err)
	}

	var pending int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pairing_requests WHERE channel = ? AND account_id = ?
	`, channel, accountID).Scan(&pending); err != nil {
		return "", false, fmt.Errorf("failed to count pairing requests: %w", err)
	}
	if pending >= store.PairingPendingMax {
		return "", false, tx.Commit()
	}

	code, err = s.uniqueCode(ctx, tx)
	if err != nil {
		return "", false, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pairing_requests (id, channel, account_id, sender_id, code, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.Must(uuid.NewV7()).String(), channel, accountID, senderID, code, now, now); err != nil {
		return "", false, fmt.Errorf("failed to insert pairing request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	return code, true, nil
}

func (s *Store) uniqueCode(ctx context.Context, tx *sql.Tx) (string, error) {
	for range 8 {
		code, err := store.NewPairingCode()
		if err != nil {
			return "", err
		}
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pairing_requests WHERE code = ?`, code).Scan(&n); err != nil {
			return "", err
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique pairing code")
}

// ListPairingRequests returns unexpired requests for channel, oldest first.
func (s *Store) ListPairingRequests(ctx context.Context, channel string) ([]store.PairingRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, account_id, sender_id, code, created_at, last_seen
		FROM pairing_requests
		WHERE channel = ? AND created_at >= ?
		ORDER BY created_at, id
	`, channel, s.cutoff())
	if err != nil {
		return nil, fmt.Errorf("failed to query pairing requests: %w", err)
	}
	defer rows.Close()

	var out []store.PairingRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ApprovePairing implements store.PairingStore.
func (s *Store) ApprovePairing(ctx context.Context, channel, code string) (store.PairingRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.PairingRequest{}, err
	}
	defer tx.Rollback()

	req, err := scanRequest(tx.QueryRowContext(ctx, `
		SELECT id, channel, account_id, sender_id, code, created_at, last_seen
		FROM pairing_requests
		WHERE channel = ? AND code = ? AND created_at >= ?
	`, channel, store.NormalizeCode(code), s.cutoff()))
	if errors.Is(err, sql.ErrNoRows) {
		return store.PairingRequest{}, store.ErrNotFound
	}
	if err != nil {
		return store.PairingRequest{}, fmt.Errorf("failed to query pairing request: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO allow_from (channel, account_id, sender_id, approved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (channel, account_id, sender_id) DO NOTHING
	`, req.Channel, req.AccountID, req.SenderID, s.now().UnixMilli()); err != nil {
		return store.PairingRequest{}, fmt.Errorf("failed to insert allow_from: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pairing_requests WHERE id = ?`, req.ID); err != nil {
		return store.PairingRequest{}, fmt.Errorf("failed to delete pairing request: %w", err)
	}
	return req, tx.Commit()
}

// PruneExpired implements store.PairingStore.
func (s *Store) PruneExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pairing_requests WHERE created_at < ?`, s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("failed to prune pairing requests: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (store.PairingRequest, error) {
	var req store.PairingRequest
	var createdAt, lastSeen int64
	if err := row.Scan(&req.ID, &req.Channel, &req.AccountID, &req.SenderID, &req.Code, &createdAt, &lastSeen); err != nil {
		return store.PairingRequest{}, err
	}
	req.CreatedAt = time.UnixMilli(createdAt).UTC()
	req.LastSeen = time.UnixMilli(lastSeen).UTC()
	return req, nil
}

// UpdateLastRoute implements store.RouteStore.
func (s *Store) UpdateLastRoute(ctx context.Context, r store.LastRoute) error {
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_routes (channel, account_id, peer_kind, chat_id, sender_id, route_key, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel, account_id) DO UPDATE SET
			peer_kind = excluded.peer_kind,
			chat_id = excluded.chat_id,
			sender_id = excluded.sender_id,
			route_key = excluded.route_key,
			updated_at = excluded.updated_at
	`, r.Channel, r.AccountID, r.PeerKind, r.ChatID, r.SenderID, r.Key, updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save last route: %w", err)
	}
	return nil
}

// LastRoute implements store.RouteStore.
func (s *Store) LastRoute(ctx context.Context, channel, accountID string) (store.LastRoute, error) {
	var r store.LastRoute
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT channel, account_id, peer_kind, chat_id, sender_id, route_key, updated_at
		FROM last_routes
		WHERE channel = ? AND account_id = ?
	`, channel, accountID).Scan(&r.Channel, &r.AccountID, &r.PeerKind, &r.ChatID, &r.SenderID, &r.Key, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return store.LastRoute{}, store.ErrNotFound
	}
	if err != nil {
		return store.LastRoute{}, fmt.Errorf("failed to query last route: %w", err)
	}
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	return r, nil
}
