// Package channels implements the inbound gate for chat channels: policy
// resolution over the channel → account → group configuration tree, mention
// detection, duplicate suppression, and the dispatcher that forwards passed
// events to the reply and send collaborators.
package channels

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/shuv1337/shuvbot/internal/bus"
)

// DMPolicy controls how DMs from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyPairing   DMPolicy = "pairing"   // Unknown senders get a pairing code
	DMPolicyAllowlist DMPolicy = "allowlist" // Only whitelisted senders
	DMPolicyClosed    DMPolicy = "closed"    // Alias of allowlist
	DMPolicyOpen      DMPolicy = "open"      // Accept all
	DMPolicyDisabled  DMPolicy = "disabled"  // Reject all DMs
)

// GroupPolicy controls how group messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"      // Accept all groups
	GroupPolicyAllowlist GroupPolicy = "allowlist" // Only whitelisted senders
	GroupPolicyDisabled  GroupPolicy = "disabled"  // No group messages
)

// WildcardSender in an allow-list admits every sender.
const WildcardSender = "*"

// EventSource delivers inbound events to a handler, one at a time, until ctx
// is cancelled or the handler returns an error.
type EventSource interface {
	Subscribe(ctx context.Context, handler bus.EventHandler) error
}

// IdentitySource is implemented by sources that can report the bot identity
// the transport is actually logged in as.
type IdentitySource interface {
	LiveIdentity(ctx context.Context) (bus.BotIdentity, error)
}

// ReplyGenerator produces reply text for a passed event. An empty reply
// means nothing should be sent.
type ReplyGenerator interface {
	Generate(ctx context.Context, ev bus.InboundEvent, route bus.Route) (string, error)
}

// Sender delivers an outbound message to the channel.
type Sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// ReplyGeneratorFunc adapts a function to ReplyGenerator.
type ReplyGeneratorFunc func(ctx context.Context, ev bus.InboundEvent, route bus.Route) (string, error)

func (f ReplyGeneratorFunc) Generate(ctx context.Context, ev bus.InboundEvent, route bus.Route) (string, error) {
	return f(ctx, ev, route)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg bus.OutboundMessage) error

func (f SenderFunc) Send(ctx context.Context, msg bus.OutboundMessage) error { return f(ctx, msg) }

// IsAllowed checks whether a sender is admitted by allowList. The sender may
// be identified by several ids (phone number, uuid); any match admits it.
// Entries may carry a "signal:" or "uuid:" prefix. "*" admits everyone.
// An empty list admits nobody; callers decide whether a list applies at all.
func IsAllowed(allowList []string, senderIDs ...string) bool {
	for _, allowed := range allowList {
		entry := strings.TrimSpace(allowed)
		if entry == WildcardSender {
			return true
		}
		entry = strings.TrimPrefix(entry, "signal:")
		uuidOnly := strings.HasPrefix(entry, "uuid:")
		entry = strings.TrimPrefix(entry, "uuid:")
		if entry == "" {
			continue
		}

		for _, id := range senderIDs {
			if id == "" {
				continue
			}
			if strings.EqualFold(id, entry) {
				return true
			}
			if !uuidOnly && isPhoneLike(entry) && normalizePhone(id) == normalizePhone(entry) {
				return true
			}
		}
	}
	return false
}

func isPhoneLike(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits > 0
}

func normalizePhone(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Truncate shortens a string to at most maxLen bytes, cut on a rune
// boundary, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := max(maxLen, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
