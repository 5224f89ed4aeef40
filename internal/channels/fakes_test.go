package channels

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/shuv1337/shuvbot/internal/bus"
	"github.com/shuv1337/shuvbot/internal/store"
)

// memPairingStore is an in-memory store.PairingStore and store.RouteStore.
type memPairingStore struct {
	mu        sync.Mutex
	allow     map[string][]string // channel|account → ids
	pending   map[string]string   // channel|account|sender → code
	routes    map[string]store.LastRoute
	upserts   int
	readErr   error
	nextCodes []string
}

func newMemPairingStore() *memPairingStore {
	return &memPairingStore{
		allow:   make(map[string][]string),
		pending: make(map[string]string),
		routes:  make(map[string]store.LastRoute),
	}
}

func (m *memPairingStore) ReadAllowFrom(_ context.Context, channel, accountID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.allow[channel+"|"+accountID], nil
}

func (m *memPairingStore) UpsertPairingRequest(_ context.Context, channel, accountID, senderID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	key := channel + "|" + accountID + "|" + senderID
	if code, ok := m.pending[key]; ok {
		return code, false, nil
	}
	code := "CODE0000"
	if len(m.nextCodes) > 0 {
		code, m.nextCodes = m.nextCodes[0], m.nextCodes[1:]
	}
	m.pending[key] = code
	return code, true, nil
}

func (m *memPairingStore) ListPairingRequests(context.Context, string) ([]store.PairingRequest, error) {
	return nil, nil
}

func (m *memPairingStore) PruneExpired(context.Context) (int, error) { return 0, nil }

func (m *memPairingStore) ApprovePairing(_ context.Context, channel, code string) (store.PairingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, c := range m.pending {
		if c != code {
			continue
		}
		var req store.PairingRequest
		req.Channel, req.AccountID, req.SenderID = splitKey(key)
		req.Code = code
		k := req.Channel + "|" + req.AccountID
		m.allow[k] = append(m.allow[k], req.SenderID)
		delete(m.pending, key)
		return req, nil
	}
	return store.PairingRequest{}, store.ErrNotFound
}

func (m *memPairingStore) UpdateLastRoute(_ context.Context, r store.LastRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[r.Channel+"|"+r.AccountID] = r
	return nil
}

func (m *memPairingStore) LastRoute(_ context.Context, channel, accountID string) (store.LastRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[channel+"|"+accountID]
	if !ok {
		return store.LastRoute{}, store.ErrNotFound
	}
	return r, nil
}

func splitKey(key string) (string, string, string) {
	parts := strings.SplitN(key, "|", 3)
	return parts[0], parts[1], parts[2]
}

// recordingSender collects outbound messages.
type recordingSender struct {
	mu   sync.Mutex
	sent []bus.OutboundMessage
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg bus.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

func (r *recordingSender) messages() []bus.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.OutboundMessage(nil), r.sent...)
}

// sliceSource delivers a fixed list of events, then blocks until ctx is done.
type sliceSource struct {
	events []bus.InboundEvent
	live   *bus.BotIdentity
}

func (s *sliceSource) Subscribe(ctx context.Context, handler bus.EventHandler) error {
	for _, ev := range s.events {
		if err := handler(ev); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

// identitySource is a sliceSource that also reports a live identity.
type identitySource struct {
	sliceSource
}

func (s *identitySource) LiveIdentity(context.Context) (bus.BotIdentity, error) {
	if s.live == nil {
		return bus.BotIdentity{}, errors.New("no identity")
	}
	return *s.live, nil
}
