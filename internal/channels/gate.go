package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shuv1337/shuvbot/internal/bus"
	"github.com/shuv1337/shuvbot/internal/config"
	"github.com/shuv1337/shuvbot/internal/store"
)

// Drop reasons. The first failing check determines the reason.
const (
	ReasonDuplicate  = "duplicate"
	ReasonDisabled   = "disabled"
	ReasonNotAllowed = "not-allowed"
	ReasonNoMention  = "no-mention"
)

// Verdict is the outcome of gating one event.
type Verdict struct {
	Pass   bool
	Reason string // empty on pass
	Route  bus.Route
	// Set when the event triggered a pairing request.
	PairingCode    string
	PairingCreated bool
}

const tracerName = "github.com/shuv1337/shuvbot/internal/channels"

// Gate decides whether an inbound event should get a reply. The dedupe cache
// and the config holder are owned by the caller and passed in; the gate
// itself keeps the identities reported by the transports and the default
// mention detectors built from them.
type Gate struct {
	cfg      *config.Holder
	dedupe   *bus.DedupeCache
	pairing  store.PairingStore // nil = no pairing flow, no dynamic allow-list
	debounce *PairingDebouncer
	tracer   trace.Tracer

	mu        sync.RWMutex
	live      map[string]bus.BotIdentity // account key → identity reported by the transport
	detectors map[string]cachedDetector  // account key → default-pattern detector
}

type cachedDetector struct {
	id       bus.BotIdentity
	detector *MentionDetector
}

// NewGate creates a gate. pairing may be nil.
func NewGate(cfg *config.Holder, dedupe *bus.DedupeCache, pairing store.PairingStore) *Gate {
	return &Gate{
		cfg:       cfg,
		dedupe:    dedupe,
		pairing:   pairing,
		debounce:  NewPairingDebouncer(0),
		tracer:    otel.Tracer(tracerName),
		live:      make(map[string]bus.BotIdentity),
		detectors: make(map[string]cachedDetector),
	}
}

// SetLiveIdentity records the identity the transport reports for an account.
// It is merged into every config snapshot rather than replacing it.
func (g *Gate) SetLiveIdentity(accountKey string, live bus.BotIdentity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.live[accountKey] = live
}

func configuredIdentity(acct config.SignalAccount) bus.BotIdentity {
	return bus.BotIdentity{Number: acct.Number, UUID: acct.UUID, Name: acct.Name}
}

// BotIdentity returns the bot identity used for mention matching on acct:
// the identity configured in acct completed with the live one. When the two
// disagree the error is logged and the configured identity is used.
func (g *Gate) BotIdentity(acct config.SignalAccount) bus.BotIdentity {
	configured := configuredIdentity(acct)
	g.mu.RLock()
	live, ok := g.live[acct.Key]
	g.mu.RUnlock()
	if !ok {
		return configured
	}
	id, err := configured.Reconcile(live)
	if err != nil {
		slog.Error("configured bot identity disagrees with the transport", "account_id", acct.Key, "error", err)
		return configured
	}
	return id
}

// CheckIdentities returns an ErrIdentityMismatch error when an account in
// cfg disagrees with the identity its running transport reported. Accounts
// absent from cfg are skipped.
func (g *Gate) CheckIdentities(cfg *config.Config) error {
	sig := &cfg.Channels.Signal

	g.mu.RLock()
	keys := make([]string, 0, len(g.live))
	for k := range g.live {
		keys = append(keys, k)
	}
	g.mu.RUnlock()
	sort.Strings(keys)

	for _, key := range keys {
		if key != config.DefaultAccountKey {
			if _, ok := sig.Accounts[key]; !ok {
				continue
			}
		}
		g.mu.RLock()
		live := g.live[key]
		g.mu.RUnlock()
		if _, err := configuredIdentity(sig.ResolveAccount(key)).Reconcile(live); err != nil {
			return fmt.Errorf("account %s: %w", key, err)
		}
	}
	return nil
}

// Evaluate gates one event. Checks run in order and short-circuit:
// duplicate, disabled, not-allowed, no-mention. The only side effects are
// registering the fingerprint and, for unknown DM senders under the pairing
// policy, upserting a pairing request.
func (g *Gate) Evaluate(ctx context.Context, ev bus.InboundEvent) Verdict {
	ctx, span := g.tracer.Start(ctx, "gate.evaluate", trace.WithAttributes(
		attribute.String("channel", ev.Channel),
		attribute.String("account_id", ev.AccountID),
		attribute.String("peer_kind", ev.PeerKind()),
	))
	defer span.End()

	v := g.evaluate(ctx, ev)
	span.SetAttributes(attribute.Bool("pass", v.Pass), attribute.String("reason", v.Reason))

	if !v.Pass {
		slog.Debug("inbound event dropped",
			"reason", v.Reason,
			"account_id", ev.AccountID,
			"sender_id", ev.SenderID,
			"group_id", ev.GroupID,
			"preview", Truncate(ev.Body, 50),
		)
	}
	return v
}

func (g *Gate) evaluate(ctx context.Context, ev bus.InboundEvent) Verdict {
	v := Verdict{Route: bus.RouteFor(ev)}

	// 1. Dedupe, before anything else looks at the event.
	if g.dedupe != nil && g.dedupe.Seen(ev.Fingerprint()) {
		v.Reason = ReasonDuplicate
		return v
	}

	// 2. Resolve against one config snapshot.
	cfg := g.cfg.Load()
	sig := &cfg.Channels.Signal
	acct := sig.ResolveAccount(ev.AccountID)

	var policy EffectivePolicy
	if ev.IsGroup() {
		policy = resolveGroup(acct, ev.GroupID)
	} else {
		policy = resolveDM(acct)
	}

	// 3. Enabled.
	if !sig.IsEnabled() || !policy.Enabled {
		v.Reason = ReasonDisabled
		return v
	}

	// 4. Allow-list.
	if !g.senderAllowed(ctx, ev, policy) {
		v.Reason = ReasonNotAllowed
		if policy.Pairing {
			v.PairingCode, v.PairingCreated = g.requestPairing(ctx, ev)
		}
		return v
	}

	// 5. Mention gating, groups only.
	if ev.IsGroup() && policy.RequireMention {
		bot := g.BotIdentity(acct)
		if !g.mentionDetector(cfg, acct.Key, bot).IsMentioned(ev, bot) {
			v.Reason = ReasonNoMention
			return v
		}
	}

	v.Pass = true
	return v
}

func (g *Gate) senderAllowed(ctx context.Context, ev bus.InboundEvent, policy EffectivePolicy) bool {
	if policy.Allows(ev.SenderID, ev.SenderUUID) {
		return true
	}
	if !policy.UsesStore || g.pairing == nil {
		return false
	}
	dynamic, err := g.pairing.ReadAllowFrom(ctx, ev.Channel, ev.AccountID)
	if err != nil {
		// Store trouble degrades to the static list; gating never fails.
		slog.Warn("read pairing allow-list failed", "account_id", ev.AccountID, "error", err)
		return false
	}
	return IsAllowed(dynamic, ev.SenderID, ev.SenderUUID)
}

func (g *Gate) requestPairing(ctx context.Context, ev bus.InboundEvent) (string, bool) {
	if g.pairing == nil {
		return "", false
	}
	if !g.debounce.Allow(ev.AccountID + "|" + ev.SenderID) {
		return "", false
	}
	code, created, err := g.pairing.UpsertPairingRequest(ctx, ev.Channel, ev.AccountID, ev.SenderID)
	if err != nil {
		slog.Warn("pairing request failed", "sender_id", ev.SenderID, "error", err)
		return "", false
	}
	if created {
		slog.Info("pairing request created", "sender_id", ev.SenderID, "account_id", ev.AccountID, "code", code)
	}
	return code, created
}

// mentionDetector uses the configured patterns when there are any, else
// the default patterns for bot, compiled once per account and identity.
func (g *Gate) mentionDetector(cfg *config.Config, accountKey string, bot bus.BotIdentity) *MentionDetector {
	if cfg.Messages.GroupChat.HasMentionPatterns() {
		return NewMentionDetector(cfg.Messages.GroupChat.MentionRegexes())
	}

	g.mu.RLock()
	c, ok := g.detectors[accountKey]
	g.mu.RUnlock()
	if ok && c.id == bot {
		return c.detector
	}

	d := NewMentionDetector(DefaultMentionPatterns(bot))
	g.mu.Lock()
	g.detectors[accountKey] = cachedDetector{id: bot, detector: d}
	g.mu.Unlock()
	return d
}
