package store

import (
	"context"
	"testing"
	"time"
)

type countingPruner struct {
	PairingStore
	calls chan struct{}
}

func (c *countingPruner) PruneExpired(context.Context) (int, error) {
	c.calls <- struct{}{}
	return 1, nil
}

func TestRunJanitor_RejectsBadSchedule(t *testing.T) {
	if err := RunJanitor(context.Background(), &countingPruner{}, "not a cron"); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestRunJanitor_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunJanitor(ctx, &countingPruner{calls: make(chan struct{}, 1)}, "0 0 1 1 *") }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunJanitor = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

func TestNormalizeCodeAndNewPairingCode(t *testing.T) {
	if got := NormalizeCode("  ab3k9xyz\n"); got != "AB3K9XYZ" {
		t.Fatalf("NormalizeCode = %q", got)
	}
	code, err := NewPairingCode()
	if err != nil || len(code) != PairingCodeLength {
		t.Fatalf("NewPairingCode = %q, %v", code, err)
	}
	for _, r := range code {
		if r == '0' || r == 'O' || r == '1' || r == 'I' || r == 'L' {
			t.Fatalf("code %q contains ambiguous character %q", code, r)
		}
	}
}
