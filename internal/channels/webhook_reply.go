package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shuv1337/shuvbot/internal/bus"
)

const defaultReplyTimeout = 30 * time.Second

// webhookRequest is the JSON body posted to the reply webhook.
type webhookRequest struct {
	Event bus.InboundEvent `json:"event"`
	Route bus.Route        `json:"route"`
}

// webhookResponse is the expected JSON response. An empty reply means
// nothing is sent.
type webhookResponse struct {
	Reply string `json:"reply"`
}

// WebhookReplier generates replies by posting the passed event to an HTTP
// endpoint (an agent service, a script, ...).
type WebhookReplier struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewWebhookReplier creates a replier for url; timeout <= 0 uses 30s.
func NewWebhookReplier(url string, timeout time.Duration) *WebhookReplier {
	if timeout <= 0 {
		timeout = defaultReplyTimeout
	}
	return &WebhookReplier{url: url, timeout: timeout, client: &http.Client{}}
}

// Generate implements ReplyGenerator.
func (w *WebhookReplier) Generate(ctx context.Context, ev bus.InboundEvent, route bus.Route) (string, error) {
	payload, err := json.Marshal(webhookRequest{Event: ev, Route: route})
	if err != nil {
		return "", fmt.Errorf("reply webhook: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("reply webhook: build request to %q: %w", w.url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("calling reply webhook", "url", w.url, "chat_id", route.ChatID)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reply webhook: request to %q failed: %w", w.url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB cap
	if err != nil {
		return "", fmt.Errorf("reply webhook: read response body: %w", err)
	}
	if resp.StatusCode == http.StatusNoContent {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reply webhook: upstream returned %d: %s", resp.StatusCode, Truncate(string(body), 200))
	}

	var out webhookResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("reply webhook: parse response JSON: %w", err)
	}
	return out.Reply, nil
}
