package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// RunJanitor prunes expired pairing requests on the cron schedule expr until
// ctx is cancelled. Prune failures are logged and retried on the next tick.
func RunJanitor(ctx context.Context, ps PairingStore, expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("janitor: invalid cron expression %q", expr)
	}
	for {
		next, err := gronx.NextTickAfter(expr, time.Now(), false)
		if err != nil {
			return fmt.Errorf("janitor: next tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		n, err := ps.PruneExpired(ctx)
		if err != nil {
			slog.Warn("janitor: prune pairing requests failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("janitor: pruned expired pairing requests", "count", n)
		}
	}
}
