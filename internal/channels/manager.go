package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shuv1337/shuvbot/internal/bus"
	"github.com/shuv1337/shuvbot/internal/store"
)

// Manager manages the event sources of all monitored accounts, running each
// through the shared dispatcher, and routes outbound-initiated messages.
type Manager struct {
	dispatcher *Dispatcher
	sources    map[string]EventSource // account key → source
	running    map[string]bool
	mu         sync.RWMutex
}

// NewManager creates a new channel manager.
// Sources are registered externally via RegisterSource.
func NewManager(d *Dispatcher) *Manager {
	return &Manager{
		dispatcher: d,
		sources:    make(map[string]EventSource),
		running:    make(map[string]bool),
	}
}

// RegisterSource adds the event source for an account.
func (m *Manager) RegisterSource(accountKey string, src EventSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[accountKey] = src
}

// UnregisterSource removes an account's source. A running subscription is
// not interrupted; cancel the Run context for that.
func (m *Manager) UnregisterSource(accountKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, accountKey)
}

// Run subscribes to every registered source and blocks until ctx is
// cancelled or one account fails to start (for example on a bot identity
// mismatch), in which case every subscription is stopped and the error is
// returned.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	sources := make(map[string]EventSource, len(m.sources))
	for k, v := range m.sources {
		sources[k] = v
	}
	m.mu.RUnlock()

	if len(sources) == 0 {
		slog.Warn("no accounts enabled")
		<-ctx.Done()
		return nil
	}

	slog.Info("starting all accounts", "count", len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for key, src := range sources {
		g.Go(func() error {
			m.setRunning(key, true)
			defer m.setRunning(key, false)

			slog.Info("starting account", "account_id", key)
			if err := m.dispatcher.Run(gctx, key, src); err != nil {
				slog.Error("account stopped with error", "account_id", key, "error", err)
				return fmt.Errorf("account %s: %w", key, err)
			}
			slog.Info("account stopped", "account_id", key)
			return nil
		})
	}

	err := g.Wait()
	slog.Info("all accounts stopped")
	return err
}

func (m *Manager) setRunning(key string, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[key] = v
}

// GetStatus returns the running status of all accounts.
func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]interface{})
	for key := range m.sources {
		status[key] = map[string]interface{}{
			"enabled": true,
			"running": m.running[key],
		}
	}
	return status
}

// GetEnabledAccounts returns the keys of all registered accounts, sorted.
func (m *Manager) GetEnabledAccounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.sources))
	for key := range m.sources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SendToLastRoute delivers content to the conversation the account last
// replied into.
func (m *Manager) SendToLastRoute(ctx context.Context, routes store.RouteStore, channel, accountID, content string) error {
	if routes == nil {
		return fmt.Errorf("no route store configured")
	}
	if m.dispatcher.sender == nil {
		return fmt.Errorf("no sender configured")
	}
	r, err := routes.LastRoute(ctx, channel, accountID)
	if err != nil {
		return fmt.Errorf("last route for %s: %w", accountID, err)
	}
	return m.dispatcher.sender.Send(ctx, bus.OutboundMessage{
		Channel:   r.Channel,
		AccountID: r.AccountID,
		ChatID:    r.ChatID,
		IsGroup:   r.PeerKind == "group",
		Content:   content,
	})
}
