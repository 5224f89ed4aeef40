package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shuv1337/shuvbot/internal/store"
)

// PGPairingStore implements store.PairingStore backed by Postgres.
type PGPairingStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPGPairingStore(db *sql.DB) *PGPairingStore {
	return &PGPairingStore{db: db, now: time.Now}
}

const pairingSelectCols = `id, channel, account_id, sender_id, code, created_at, last_seen`

func (s *PGPairingStore) cutoff() time.Time {
	return s.now().Add(-store.PairingPendingTTL)
}

func (s *PGPairingStore) ReadAllowFrom(ctx context.Context, channel, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id FROM allow_from WHERE channel = $1 AND account_id = $2 ORDER BY approved_at, sender_id`,
		channel, accountID)
	if err != nil {
		return nil, err
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

func (s *PGPairingStore) UpsertPairingRequest(ctx context.Context, channel, accountID, senderID string) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	now := s.now()
	if _, err := tx.ExecContext(ctx, `DELETE FROM pairing_requests WHERE created_at < $1`, s.cutoff()); err != nil {
		return "", false, fmt.Errorf("prune pairing requests: %w", err)
	}

	var code string
	err = tx.QueryRowContext(ctx,
		`UPDATE pairing_requests SET last_seen = $4
		 WHERE channel = $1 AND account_id = $2 AND sender_id = $3
		 RETURNING code`,
		channel, accountID, senderID, now).Scan(&code)
	switch {
	case err == nil:
		return code, false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, fmt.Errorf("touch pairing request: %w", err)
	}

	var pending int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pairing_requests WHERE channel = $1 AND account_id = $2`,
		channel, accountID).Scan(&pending); err != nil {
		return "", false, fmt.Errorf("count pairing requests: %w", err)
	}
	if pending >= store.PairingPendingMax {
		return "", false, tx.Commit()
	}

	for range 8 {
		code, err = store.NewPairingCode()
		if err != nil {
			return "", false, err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO pairing_requests (id, channel, account_id, sender_id, code, created_at, last_seen)
			 VALUES ($1, $2, $3, $4, $5, $6, $6)
			 ON CONFLICT (code) DO NOTHING`,
			uuid.Must(uuid.NewV7()), channel, accountID, senderID, code, now)
		if err != nil {
			return "", false, fmt.Errorf("insert pairing request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			if err := tx.Commit(); err != nil {
				return "", false, err
			}
			return code, true, nil
		}
	}
	return "", false, fmt.Errorf("generate unique pairing code")
}

func (s *PGPairingStore) ListPairingRequests(ctx context.Context, channel string) ([]store.PairingRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pairingSelectCols+` FROM pairing_requests
		 WHERE channel = $1 AND created_at >= $2
		 ORDER BY created_at, id`,
		channel, s.cutoff())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PairingRequest
	for rows.Next() {
		req, err := scanPairingRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PGPairingStore) ApprovePairing(ctx context.Context, channel, code string) (store.PairingRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.PairingRequest{}, err
	}
	defer tx.Rollback()

	req, err := scanPairingRequest(tx.QueryRowContext(ctx,
		`DELETE FROM pairing_requests
		 WHERE channel = $1 AND code = $2 AND created_at >= $3
		 RETURNING `+pairingSelectCols,
		channel, store.NormalizeCode(code), s.cutoff()))
	if errors.Is(err, sql.ErrNoRows) {
		return store.PairingRequest{}, store.ErrNotFound
	}
	if err != nil {
		return store.PairingRequest{}, fmt.Errorf("claim pairing request: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO allow_from (channel, account_id, sender_id, approved_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (channel, account_id, sender_id) DO NOTHING`,
		req.Channel, req.AccountID, req.SenderID, s.now()); err != nil {
		return store.PairingRequest{}, fmt.Errorf("insert allow_from: %w", err)
	}
	return req, tx.Commit()
}

func (s *PGPairingStore) PruneExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pairing_requests WHERE created_at < $1`, s.cutoff())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPairingRequest(row rowScanner) (store.PairingRequest, error) {
	var req store.PairingRequest
	var id uuid.UUID
	if err := row.Scan(&id, &req.Channel, &req.AccountID, &req.SenderID, &req.Code, &req.CreatedAt, &req.LastSeen); err != nil {
		return store.PairingRequest{}, err
	}
	req.ID = id.String()
	return req, nil
}
