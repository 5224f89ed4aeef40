package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shuv1337/shuvbot/internal/bus"
	"github.com/shuv1337/shuvbot/internal/config"
)

func echoReplier(prefix string) ReplyGenerator {
	return ReplyGeneratorFunc(func(_ context.Context, ev bus.InboundEvent, _ bus.Route) (string, error) {
		return prefix + ev.Body, nil
	})
}

func TestDispatcher_DuplicateForwardedOnce(t *testing.T) {
	g := newTestGate(t, `{`+testConfigBase+`, groups: {"*": {requireMention: false}}}}}`, nil)
	sender := &recordingSender{}
	calls := 0
	replier := ReplyGeneratorFunc(func(context.Context, bus.InboundEvent, bus.Route) (string, error) {
		calls++
		return "ok", nil
	})
	d := NewDispatcher(g, replier, sender, nil)

	ev := groupEvent("G", "+15551111111", "same")
	d.Handle(context.Background(), ev)
	d.Handle(context.Background(), ev)

	if calls != 1 {
		t.Fatalf("reply generator called %d times, want 1", calls)
	}
	if n := len(sender.messages()); n != 1 {
		t.Fatalf("sent %d messages, want 1", n)
	}
}

func TestDispatcher_ReplyRoutedToGroupOrSender(t *testing.T) {
	g := newTestGate(t, `{`+testConfigBase+`, dmPolicy: "open", groups: {"*": {requireMention: false}}}}}`, nil)
	sender := &recordingSender{}
	routes := newMemPairingStore()
	d := NewDispatcher(g, echoReplier("re: "), sender, routes)
	ctx := context.Background()

	d.Handle(ctx, groupEvent("G", "+15551111111", "group msg"))
	d.Handle(ctx, dmEvent("+15552222222", "dm msg"))

	msgs := sender.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if msgs[0].ChatID != "G" || !msgs[0].IsGroup || msgs[0].Content != "re: group msg" {
		t.Errorf("group reply = %+v", msgs[0])
	}
	if msgs[1].ChatID != "+15552222222" || msgs[1].IsGroup || msgs[1].Content != "re: dm msg" {
		t.Errorf("dm reply = %+v", msgs[1])
	}

	last, err := routes.LastRoute(ctx, "signal", config.DefaultAccountKey)
	if err != nil {
		t.Fatalf("LastRoute: %v", err)
	}
	if last.Key != "signal:default:direct:+15552222222" {
		t.Errorf("last route key = %q", last.Key)
	}
}

func TestDispatcher_DroppedEventsNeverReply(t *testing.T) {
	g := newTestGate(t, `{`+testConfigBase+`}}}`, nil)
	replier := ReplyGeneratorFunc(func(context.Context, bus.InboundEvent, bus.Route) (string, error) {
		t.Error("reply generator called for a dropped event")
		return "", nil
	})
	sender := &recordingSender{}
	d := NewDispatcher(g, replier, sender, nil)

	v := d.Handle(context.Background(), groupEvent("G", "+15551111111", "not addressed"))
	expectVerdict(t, v, false, ReasonNoMention)
	if len(sender.messages()) != 0 {
		t.Fatal("nothing should be sent for a dropped event")
	}
}

func TestDispatcher_CollaboratorFailuresAreContained(t *testing.T) {
	g := newTestGate(t, `{`+testConfigBase+`, dmPolicy: "open"}}}`, nil)
	ctx := context.Background()

	failing := ReplyGeneratorFunc(func(context.Context, bus.InboundEvent, bus.Route) (string, error) {
		return "", errors.New("model unavailable")
	})
	sender := &recordingSender{}
	v := NewDispatcher(g, failing, sender, nil).Handle(ctx, dmEvent("+15551111111", "a"))
	expectVerdict(t, v, true, "")
	if len(sender.messages()) != 0 {
		t.Fatal("a failed generation must not send anything")
	}

	broken := &recordingSender{err: errors.New("daemon offline")}
	v = NewDispatcher(g, echoReplier(""), broken, nil).Handle(ctx, dmEvent("+15551111111", "b"))
	expectVerdict(t, v, true, "")
}

func TestDispatcher_EmptyReplyNotSent(t *testing.T) {
	g := newTestGate(t, `{`+testConfigBase+`, dmPolicy: "open"}}}`, nil)
	sender := &recordingSender{}
	d := NewDispatcher(g, echoReplier(""), sender, nil)
	d.Handle(context.Background(), dmEvent("+15551111111", ""))
	if len(sender.messages()) != 0 {
		t.Fatal("empty reply should not be sent")
	}
}

func TestDispatcher_PairingReplySentOnce(t *testing.T) {
	ps := newMemPairingStore()
	ps.nextCodes = []string{"XYZW2345"}
	g := newTestGate(t, `{`+testConfigBase+`}}}`, ps)
	sender := &recordingSender{}
	d := NewDispatcher(g, echoReplier(""), sender, nil)
	ctx := context.Background()

	d.Handle(ctx, dmEvent("+15551111111", "hi"))
	g.debounce = NewPairingDebouncer(time.Nanosecond)
	time.Sleep(time.Millisecond)
	d.Handle(ctx, dmEvent("+15551111111", "hi again"))

	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want exactly one pairing reply", len(msgs))
	}
	if !strings.Contains(msgs[0].Content, "XYZW2345") || msgs[0].ChatID != "+15551111111" {
		t.Errorf("pairing reply = %+v", msgs[0])
	}
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	g := newTestGate(t, `{`+testConfigBase+`, dmPolicy: "open"}}}`, nil)
	sender := &recordingSender{}
	d := NewDispatcher(g, echoReplier("re: "), sender, nil)

	src := &sliceSource{events: []bus.InboundEvent{
		dmEvent("+15551111111", "one"),
		dmEvent("+15551111111", "two"),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, config.DefaultAccountKey, src) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(sender.messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if n := len(sender.messages()); n != 2 {
		t.Fatalf("sent %d messages, want 2", n)
	}
}

func TestDispatcher_RunRefusesIdentityMismatch(t *testing.T) {
	g := newTestGate(t, `{`+testConfigBase+`}}}`, nil)
	d := NewDispatcher(g, echoReplier(""), &recordingSender{}, nil)

	src := &identitySource{sliceSource{live: &bus.BotIdentity{Number: "+15550000000", UUID: "someone-else"}}}
	err := d.Run(context.Background(), config.DefaultAccountKey, src)
	if !errors.Is(err, bus.ErrIdentityMismatch) {
		t.Fatalf("Run error = %v, want ErrIdentityMismatch", err)
	}
}

func TestDispatcher_RunFillsIdentityFromTransport(t *testing.T) {
	g := newTestGate(t, `{channels: {signal: {account: "+15550000000"}}}`, nil)
	d := NewDispatcher(g, echoReplier(""), &recordingSender{}, nil)

	src := &identitySource{sliceSource{live: &bus.BotIdentity{Number: "+15550000000", UUID: "live-uuid"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx, config.DefaultAccountKey, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	acct := g.cfg.Load().Channels.Signal.ResolveAccount(config.DefaultAccountKey)
	if id := g.BotIdentity(acct); id.UUID != "live-uuid" {
		t.Fatalf("reconciled uuid = %q, want live-uuid", id.UUID)
	}
}

func TestWebhookReplier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req webhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		switch req.Event.Body {
		case "silent":
			w.WriteHeader(http.StatusNoContent)
		case "boom":
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		default:
			if req.Route.ChatID != "G" {
				t.Errorf("route chat id = %q", req.Route.ChatID)
			}
			_ = json.NewEncoder(w).Encode(webhookResponse{Reply: "echo " + req.Event.Body})
		}
	}))
	defer srv.Close()

	wr := NewWebhookReplier(srv.URL, time.Second)
	ctx := context.Background()
	route := bus.Route{ChatID: "G", PeerKind: "group"}

	got, err := wr.Generate(ctx, bus.InboundEvent{Body: "hi"}, route)
	if err != nil || got != "echo hi" {
		t.Fatalf("Generate = %q, %v", got, err)
	}
	got, err = wr.Generate(ctx, bus.InboundEvent{Body: "silent"}, route)
	if err != nil || got != "" {
		t.Fatalf("Generate(silent) = %q, %v", got, err)
	}
	if _, err := wr.Generate(ctx, bus.InboundEvent{Body: "boom"}, route); err == nil {
		t.Fatal("expected error on 502")
	}
}
