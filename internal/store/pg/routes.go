package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shuv1337/shuvbot/internal/store"
)

// PGRouteStore implements store.RouteStore backed by Postgres.
type PGRouteStore struct {
	db *sql.DB
}

func NewPGRouteStore(db *sql.DB) *PGRouteStore {
	return &PGRouteStore{db: db}
}

func (s *PGRouteStore) UpdateLastRoute(ctx context.Context, r store.LastRoute) error {
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO last_routes (channel, account_id, peer_kind, chat_id, sender_id, route_key, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (channel, account_id) DO UPDATE SET
		   peer_kind = EXCLUDED.peer_kind,
		   chat_id = EXCLUDED.chat_id,
		   sender_id = EXCLUDED.sender_id,
		   route_key = EXCLUDED.route_key,
		   updated_at = EXCLUDED.updated_at`,
		r.Channel, r.AccountID, r.PeerKind, r.ChatID, r.SenderID, r.Key, updated)
	return err
}

func (s *PGRouteStore) LastRoute(ctx context.Context, channel, accountID string) (store.LastRoute, error) {
	var r store.LastRoute
	err := s.db.QueryRowContext(ctx,
		`SELECT channel, account_id, peer_kind, chat_id, sender_id, route_key, updated_at
		 FROM last_routes WHERE channel = $1 AND account_id = $2`,
		channel, accountID).Scan(&r.Channel, &r.AccountID, &r.PeerKind, &r.ChatID, &r.SenderID, &r.Key, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.LastRoute{}, store.ErrNotFound
	}
	return r, err
}
