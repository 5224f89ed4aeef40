package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/shuv1337/shuvbot/internal/bus"
	"github.com/shuv1337/shuvbot/internal/config"
)

const (
	minReconnectBackoff = time.Second
	maxReconnectBackoff = 30 * time.Second
)

// WSSource receives messages from signal-cli-rest-api running in json-rpc
// mode, where /v1/receive/{number} is a websocket that pushes one JSON
// payload per message. The connection is re-established with exponential
// backoff until the context is cancelled.
type WSSource struct {
	baseURL   string
	number    string
	accountID string
	client    *http.Client

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewWSSource creates a websocket source for a resolved account.
func NewWSSource(acct config.SignalAccount) *WSSource {
	return &WSSource{
		baseURL:    strings.TrimRight(acct.BaseURL, "/"),
		number:     acct.Number,
		accountID:  acct.Key,
		client:     &http.Client{Timeout: 10 * time.Second},
		minBackoff: minReconnectBackoff,
		maxBackoff: maxReconnectBackoff,
	}
}

// receiveURL converts the http(s) base URL into the websocket receive URL.
func (s *WSSource) receiveURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("signal: parse base url %q: %w", s.baseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/receive/" + s.number
	return u.String(), nil
}

// Subscribe implements channels.EventSource.
func (s *WSSource) Subscribe(ctx context.Context, handler bus.EventHandler) error {
	wsURL, err := s.receiveURL()
	if err != nil {
		return err
	}

	backoff := s.minBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			slog.Warn("signal: receive websocket dial failed", "account_id", s.accountID, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, s.maxBackoff)
			continue
		}
		conn.SetReadLimit(maxLineBytes)
		backoff = s.minBackoff // reset on success
		slog.Info("signal: receive websocket connected", "account_id", s.accountID)

		err = s.readLoop(ctx, conn, handler)
		conn.Close(websocket.StatusNormalClosure, "")

		var herr handlerError
		if errors.As(err, &herr) {
			return herr.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("signal: receive websocket read error, will reconnect", "account_id", s.accountID, "error", err)
	}
}

// handlerError marks errors returned by the event handler, which end the
// subscription instead of triggering a reconnect.
type handlerError struct{ err error }

func (e handlerError) Error() string { return e.err.Error() }

func (s *WSSource) readLoop(ctx context.Context, conn *websocket.Conn, handler bus.EventHandler) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		ev, ok, err := ParseEvent(data, s.accountID, s.number)
		if err != nil {
			slog.Warn("signal: invalid receive payload", "account_id", s.accountID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if err := handler(ev); err != nil {
			return handlerError{err}
		}
	}
}

// LiveIdentity implements channels.IdentitySource. It asks the REST API
// which accounts are registered and confirms the configured number is one
// of them; when no number is configured and exactly one account exists,
// that account is reported.
func (s *WSSource) LiveIdentity(ctx context.Context) (bus.BotIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/accounts", nil)
	if err != nil {
		return bus.BotIdentity{}, fmt.Errorf("signal: build accounts request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return bus.BotIdentity{}, fmt.Errorf("signal: list accounts: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return bus.BotIdentity{}, fmt.Errorf("signal: read accounts response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return bus.BotIdentity{}, fmt.Errorf("signal: list accounts returned %d: %s", resp.StatusCode, string(body))
	}

	var numbers []string
	if err := json.Unmarshal(body, &numbers); err != nil {
		return bus.BotIdentity{}, fmt.Errorf("signal: parse accounts response: %w", err)
	}

	if s.number == "" {
		if len(numbers) == 1 {
			return bus.BotIdentity{Number: numbers[0]}, nil
		}
		return bus.BotIdentity{}, fmt.Errorf("signal: no account configured and daemon has %d accounts", len(numbers))
	}
	for _, n := range numbers {
		if n == s.number {
			return bus.BotIdentity{Number: n}, nil
		}
	}
	return bus.BotIdentity{}, fmt.Errorf("%w: %s is not registered with the signal daemon", bus.ErrIdentityMismatch, s.number)
}
