package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shuv1337/shuvbot/internal/bus"
	"github.com/shuv1337/shuvbot/internal/config"
)

// fakeRESTAPI emulates the parts of signal-cli-rest-api the adapter uses.
// Each websocket connection receives the next batch of payloads and is then
// closed by the server, forcing a reconnect.
type fakeRESTAPI struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu      sync.Mutex
	batches [][]string
	conns   int
	sent    []sendRequest
}

func (f *fakeRESTAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/v1/receive/"):
		if got := strings.TrimPrefix(r.URL.Path, "/v1/receive/"); got != "+15559990000" {
			f.t.Errorf("receive number = %q", got)
		}
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			f.t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		f.mu.Lock()
		f.conns++
		var batch []string
		if len(f.batches) > 0 {
			batch, f.batches = f.batches[0], f.batches[1:]
		}
		f.mu.Unlock()

		for _, payload := range batch {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				return
			}
		}
		if batch == nil {
			// Nothing left: hold the connection open until the client leaves.
			_, _, _ = conn.ReadMessage()
		}
	case r.URL.Path == "/v1/accounts":
		_ = json.NewEncoder(w).Encode([]string{"+15559990000"})
	case r.URL.Path == "/v2/send":
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Message == "fail" {
			http.Error(w, `{"error":"Failed to send message"}`, http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.sent = append(f.sent, req)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	default:
		http.NotFound(w, r)
	}
}

func payload(sender, body string, ts int64) string {
	return `{"envelope":{"sourceNumber":"` + sender + `","timestamp":` + jsonInt(ts) + `,"dataMessage":{"message":"` + body + `"}}}`
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func testAccount(baseURL string) config.SignalAccount {
	return config.SignalAccount{Key: "default", Number: "+15559990000", BaseURL: baseURL, Enabled: true}
}

func TestWSSource_ReceivesAndReconnects(t *testing.T) {
	api := &fakeRESTAPI{t: t, batches: [][]string{
		{payload("+15550001111", "first", 1), `{"envelope":{"sourceNumber":"+1","receiptMessage":{}}}`},
		{`{"jsonrpc":"2.0","method":"receive","params":` + payload("+15550002222", "second", 2) + `}`},
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	src := NewWSSource(testAccount(srv.URL))
	src.minBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []bus.InboundEvent
	err := src.Subscribe(ctx, func(ev bus.InboundEvent) error {
		got = append(got, ev)
		if len(got) == 2 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Subscribe err = %v, want context.Canceled", err)
	}
	if len(got) != 2 || got[0].Body != "first" || got[1].Body != "second" {
		t.Fatalf("events = %+v", got)
	}
	api.mu.Lock()
	conns := api.conns
	api.mu.Unlock()
	if conns < 2 {
		t.Fatalf("expected a reconnect, got %d connections", conns)
	}
}

func TestWSSource_HandlerErrorEndsSubscription(t *testing.T) {
	api := &fakeRESTAPI{t: t, batches: [][]string{{payload("+15550001111", "x", 1)}}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	stop := errors.New("stop")
	err := NewWSSource(testAccount(srv.URL)).Subscribe(context.Background(), func(bus.InboundEvent) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v, want handler error", err)
	}
}

func TestWSSource_ReceiveURL(t *testing.T) {
	tests := map[string]string{
		"http://127.0.0.1:8080":      "ws://127.0.0.1:8080/v1/receive/+15559990000",
		"https://signal.example/api/": "wss://signal.example/api/v1/receive/+15559990000",
	}
	for base, want := range tests {
		got, err := NewWSSource(testAccount(base)).receiveURL()
		if err != nil || got != want {
			t.Errorf("receiveURL(%s) = %q, %v; want %q", base, got, err, want)
		}
	}
}

func TestWSSource_LiveIdentity(t *testing.T) {
	srv := httptest.NewServer(&fakeRESTAPI{t: t})
	defer srv.Close()
	ctx := context.Background()

	id, err := NewWSSource(testAccount(srv.URL)).LiveIdentity(ctx)
	if err != nil || id.Number != "+15559990000" {
		t.Fatalf("LiveIdentity = %+v, %v", id, err)
	}

	other := testAccount(srv.URL)
	other.Number = "+15550000000"
	if _, err := NewWSSource(other).LiveIdentity(ctx); !errors.Is(err, bus.ErrIdentityMismatch) {
		t.Fatalf("err = %v, want ErrIdentityMismatch", err)
	}

	unset := testAccount(srv.URL)
	unset.Number = ""
	if id, err := NewWSSource(unset).LiveIdentity(ctx); err != nil || id.Number != "+15559990000" {
		t.Fatalf("single account fallback = %+v, %v", id, err)
	}
}

func TestRESTSender(t *testing.T) {
	api := &fakeRESTAPI{t: t}
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg, err := config.Parse([]byte(`{channels: {signal: {account: "+15559990000", baseUrl: "` + srv.URL + `"}}}`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	sender := NewRESTSender(config.NewHolder(cfg))
	ctx := context.Background()

	if err := sender.Send(ctx, bus.OutboundMessage{AccountID: "default", ChatID: "+15550001111", Content: "dm"}); err != nil {
		t.Fatalf("send dm: %v", err)
	}
	if err := sender.Send(ctx, bus.OutboundMessage{AccountID: "default", ChatID: "group-abc", IsGroup: true, Content: "grp"}); err != nil {
		t.Fatalf("send group: %v", err)
	}
	if err := sender.Send(ctx, bus.OutboundMessage{AccountID: "default", ChatID: "+15550001111", Content: "fail"}); err == nil {
		t.Fatal("expected error for a rejected send")
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(api.sent))
	}
	if api.sent[0].Number != "+15559990000" || api.sent[0].Recipients[0] != "+15550001111" {
		t.Errorf("dm request = %+v", api.sent[0])
	}
	if api.sent[1].Recipients[0] != GroupRecipient("group-abc") || !strings.HasPrefix(api.sent[1].Recipients[0], "group.") {
		t.Errorf("group request = %+v", api.sent[1])
	}
}

func TestRESTSender_RateLimitHonoursContext(t *testing.T) {
	api := &fakeRESTAPI{t: t}
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg, err := config.Parse([]byte(`{channels: {signal: {account: "+15559990000", baseUrl: "` + srv.URL + `"}}}`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	sender := NewRESTSender(config.NewHolder(cfg))
	sender.limiter("+15559990000").AllowN(time.Now(), sendBurst)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sender.Send(ctx, bus.OutboundMessage{AccountID: "default", ChatID: "+15550001111", Content: "x"}); err == nil {
		t.Fatal("expected rate-limit wait to fail on a cancelled context")
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 0 {
		t.Fatalf("sent %d messages while throttled", len(api.sent))
	}
}
