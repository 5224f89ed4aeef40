package upgrade

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shuv1337/shuvbot/internal/store"
)

func init() {
	// Codes written before approval normalized input could carry lowercase
	// or padded values that ApprovePairing can no longer match.
	RegisterDataHook(1, "001_normalize_pairing_codes", func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `UPDATE pairing_requests SET code = UPPER(TRIM(code)) WHERE code <> UPPER(TRIM(code))`)
		return err
	})

	RegisterDataHook(2, "002_prune_expired_pairing_requests", func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM pairing_requests WHERE created_at < $1`,
			time.Now().Add(-store.PairingPendingTTL))
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		_, err = res.RowsAffected()
		return err
	})
}
