package signal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shuv1337/shuvbot/internal/bus"
	"github.com/shuv1337/shuvbot/internal/config"
)

const (
	defaultSendTimeout = 30 * time.Second

	// signal-cli-rest-api forwards to Signal servers, which throttle bursts
	// from one number. Replies are paced per sending number.
	sendInterval = time.Second
	sendBurst    = 5
)

// sendRequest is the body of POST /v2/send.
type sendRequest struct {
	Message    string   `json:"message"`
	Number     string   `json:"number"`
	Recipients []string `json:"recipients"`
}

// RESTSender delivers outbound messages through signal-cli-rest-api. The
// sending number and base URL are resolved per message from the current
// configuration, so account changes apply without a restart.
type RESTSender struct {
	cfg    *config.Holder
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // keyed by sending number
}

// NewRESTSender creates a sender over the config holder.
func NewRESTSender(cfg *config.Holder) *RESTSender {
	return &RESTSender{
		cfg:      cfg,
		client:   &http.Client{Timeout: defaultSendTimeout},
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *RESTSender) limiter(number string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[number]
	if !ok {
		l = rate.NewLimiter(rate.Every(sendInterval), sendBurst)
		s.limiters[number] = l
	}
	return l
}

// GroupRecipient converts a group id as it appears in receive envelopes into
// the recipient form the send endpoint expects.
func GroupRecipient(groupID string) string {
	return "group." + base64.StdEncoding.EncodeToString([]byte(groupID))
}

// Send implements channels.Sender.
func (s *RESTSender) Send(ctx context.Context, msg bus.OutboundMessage) error {
	acct := s.cfg.Load().Channels.Signal.ResolveAccount(msg.AccountID)
	if acct.Number == "" {
		return fmt.Errorf("signal: no number configured for account %q", msg.AccountID)
	}
	if msg.ChatID == "" {
		return fmt.Errorf("signal: empty recipient")
	}

	recipient := msg.ChatID
	if msg.IsGroup {
		recipient = GroupRecipient(msg.ChatID)
	}
	payload, err := json.Marshal(sendRequest{
		Message:    msg.Content,
		Number:     acct.Number,
		Recipients: []string{recipient},
	})
	if err != nil {
		return fmt.Errorf("signal: marshal send request: %w", err)
	}

	if err := s.limiter(acct.Number).Wait(ctx); err != nil {
		return fmt.Errorf("signal: send rate limit: %w", err)
	}

	url := strings.TrimRight(acct.BaseURL, "/") + "/v2/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("signal: build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("signal: send to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("signal: send returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
