package store

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"
)

// ErrNotFound is returned when a pairing code or route does not exist.
var ErrNotFound = errors.New("not found")

// Stores is the top-level container for all storage backends.
type Stores struct {
	Pairing PairingStore
	Routes  RouteStore
	closer  func() error
}

// NewStores bundles stores that share one underlying connection.
func NewStores(pairing PairingStore, routes RouteStore, closer func() error) *Stores {
	return &Stores{Pairing: pairing, Routes: routes, closer: closer}
}

// Close releases the underlying connection.
func (s *Stores) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

// PairingRequest is a pending allow-list request from an unknown sender.
type PairingRequest struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	AccountID string    `json:"accountId"`
	SenderID  string    `json:"senderId"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// PairingStore manages the dynamic allow-list and pending pairing requests.
type PairingStore interface {
	// ReadAllowFrom returns approved sender ids for a channel account.
	ReadAllowFrom(ctx context.Context, channel, accountID string) ([]string, error)
	// UpsertPairingRequest registers (or refreshes) a pending request for
	// senderID and returns its code. created is false when a request was
	// already pending; the existing code is returned. When the account
	// already has PairingPendingMax pending requests the code is empty.
	UpsertPairingRequest(ctx context.Context, channel, accountID, senderID string) (code string, created bool, err error)
	// ListPairingRequests returns pending requests, oldest first.
	ListPairingRequests(ctx context.Context, channel string) ([]PairingRequest, error)
	// ApprovePairing moves the sender behind code onto the allow-list.
	// Returns ErrNotFound for an unknown code.
	ApprovePairing(ctx context.Context, channel, code string) (PairingRequest, error)
	// PruneExpired deletes requests older than PairingPendingTTL.
	PruneExpired(ctx context.Context) (int, error)
}

// LastRoute is the most recent conversation an account replied into.
type LastRoute struct {
	Channel   string    `json:"channel"`
	AccountID string    `json:"accountId"`
	PeerKind  string    `json:"peerKind"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Key       string    `json:"key"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RouteStore records the last-used routing context per account, for
// outbound-initiated flows.
type RouteStore interface {
	UpdateLastRoute(ctx context.Context, route LastRoute) error
	// LastRoute returns ErrNotFound when the account has no route yet.
	LastRoute(ctx context.Context, channel, accountID string) (LastRoute, error)
}

// pairingAlphabet omits characters that are easy to confuse when read aloud
// or typed (0/O, 1/I/L).
const pairingAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	// PairingCodeLength is the number of characters in a pairing code.
	PairingCodeLength = 8

	// PairingPendingTTL is how long an unapproved request stays valid.
	PairingPendingTTL = time.Hour

	// PairingPendingMax caps pending requests per channel account. Further
	// unknown senders get no code until older requests expire or are approved.
	PairingPendingMax = 3
)

// NormalizeCode canonicalizes a user-typed pairing code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewPairingCode returns a random human-presentable pairing code.
func NewPairingCode() (string, error) {
	buf := make([]byte, PairingCodeLength)
	max := big.NewInt(int64(len(pairingAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = pairingAlphabet[n.Int64()]
	}
	return string(buf), nil
}
