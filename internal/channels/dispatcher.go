package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shuv1337/shuvbot/internal/bus"
	"github.com/shuv1337/shuvbot/internal/sessions"
	"github.com/shuv1337/shuvbot/internal/store"
)

// Dispatcher runs passed events through the reply pipeline: record the last
// route, generate a reply, send it. Collaborator failures are logged and the
// event counts as handled.
type Dispatcher struct {
	gate    *Gate
	replier ReplyGenerator
	sender  Sender
	routes  store.RouteStore // optional
}

// NewDispatcher creates a dispatcher. routes may be nil.
func NewDispatcher(gate *Gate, replier ReplyGenerator, sender Sender, routes store.RouteStore) *Dispatcher {
	return &Dispatcher{gate: gate, replier: replier, sender: sender, routes: routes}
}

// Gate returns the gate the dispatcher evaluates events with.
func (d *Dispatcher) Gate() *Gate { return d.gate }

// Run reconciles the bot identity for accountKey (when src can report it)
// and then consumes events from src until ctx is cancelled. A cancelled
// context is a clean stop and returns nil.
func (d *Dispatcher) Run(ctx context.Context, accountKey string, src EventSource) error {
	if err := d.reconcileIdentity(ctx, accountKey, src); err != nil {
		return err
	}

	err := src.Subscribe(ctx, func(ev bus.InboundEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.Handle(ctx, ev)
		return nil
	})
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func (d *Dispatcher) reconcileIdentity(ctx context.Context, accountKey string, src EventSource) error {
	idSrc, ok := src.(IdentitySource)
	if !ok {
		return nil
	}
	acct := d.gate.cfg.Load().Channels.Signal.ResolveAccount(accountKey)
	configured := configuredIdentity(acct)

	live, err := idSrc.LiveIdentity(ctx)
	if errors.Is(err, bus.ErrIdentityMismatch) {
		return fmt.Errorf("account %s: %w", acct.Key, err)
	}
	if err != nil {
		slog.Warn("live identity unavailable, using configured identity",
			"account_id", acct.Key, "error", err)
		return nil
	}
	id, err := configured.Reconcile(live)
	if err != nil {
		return fmt.Errorf("account %s: %w", acct.Key, err)
	}
	d.gate.SetLiveIdentity(acct.Key, live)
	slog.Info("bot identity reconciled", "account_id", acct.Key, "number", id.Number, "uuid", id.UUID)
	return nil
}

// Handle gates one event and, on pass, runs it through the reply pipeline.
// It never returns an error: every outcome is reflected in the verdict or the log.
func (d *Dispatcher) Handle(ctx context.Context, ev bus.InboundEvent) Verdict {
	ctx, span := d.gate.tracer.Start(ctx, "dispatcher.handle")
	defer span.End()

	v := d.gate.Evaluate(ctx, ev)
	if !v.Pass {
		if v.PairingCreated {
			d.sendPairingReply(ctx, ev, v.PairingCode)
		}
		return v
	}

	slog.Info("inbound event accepted",
		"account_id", ev.AccountID,
		"peer_kind", v.Route.PeerKind,
		"chat_id", v.Route.ChatID,
		"sender_id", ev.SenderID,
	)

	d.recordRoute(ctx, v.Route)

	if d.replier == nil {
		return v
	}
	reply, err := d.replier.Generate(ctx, ev, v.Route)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reply generation failed")
		slog.Error("reply generation failed", "chat_id", v.Route.ChatID, "error", err)
		return v
	}
	if reply == "" {
		return v
	}
	span.SetAttributes(attribute.Int("reply_len", len(reply)))

	if err := d.send(ctx, v.Route, reply); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		slog.Error("send reply failed", "chat_id", v.Route.ChatID, "error", err)
	}
	return v
}

func (d *Dispatcher) recordRoute(ctx context.Context, r bus.Route) {
	if d.routes == nil {
		return
	}
	kind := sessions.PeerKindFromGroup(r.PeerKind == "group")
	err := d.routes.UpdateLastRoute(ctx, store.LastRoute{
		Channel:   r.Channel,
		AccountID: r.AccountID,
		PeerKind:  string(kind),
		ChatID:    r.ChatID,
		SenderID:  r.SenderID,
		Key:       sessions.BuildRouteKey(r.Channel, r.AccountID, kind, r.ChatID),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("update last route failed", "account_id", r.AccountID, "error", err)
	}
}

func (d *Dispatcher) send(ctx context.Context, r bus.Route, content string) error {
	if d.sender == nil {
		return nil
	}
	return d.sender.Send(ctx, bus.OutboundMessage{
		Channel:   r.Channel,
		AccountID: r.AccountID,
		ChatID:    r.ChatID,
		IsGroup:   r.PeerKind == "group",
		Content:   content,
	})
}

func (d *Dispatcher) sendPairingReply(ctx context.Context, ev bus.InboundEvent, code string) {
	msg := fmt.Sprintf(
		"shuvbot: access not configured.\n\nYour Signal id: %s\n\nPairing code: %s\n\nAsk the bot owner to approve with:\n  shuvbot pairing approve %s",
		ev.SenderID, code, code,
	)
	if err := d.send(ctx, bus.RouteFor(ev), msg); err != nil {
		slog.Warn("send pairing reply failed", "sender_id", ev.SenderID, "error", err)
	}
}
