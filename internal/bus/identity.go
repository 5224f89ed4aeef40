package bus

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIdentityMismatch is returned when the configured bot identity disagrees
// with the identity reported by the transport.
var ErrIdentityMismatch = errors.New("bot identity mismatch")

// BotIdentity holds the running bot's own identifiers for one account.
// Name is only used to build default mention patterns.
type BotIdentity struct {
	Number string `json:"number,omitempty"`
	UUID   string `json:"uuid,omitempty"`
	Name   string `json:"name,omitempty"`
}

// IsZero reports whether no identifier is known.
func (b BotIdentity) IsZero() bool {
	return b.Number == "" && b.UUID == ""
}

// Matches reports whether a mention record refers to this identity.
func (b BotIdentity) Matches(m MentionRecord) bool {
	if b.Number != "" && m.Number != "" && normalizeNumber(m.Number) == normalizeNumber(b.Number) {
		return true
	}
	if b.UUID != "" && m.UUID != "" && strings.EqualFold(m.UUID, b.UUID) {
		return true
	}
	return false
}

// Reconcile merges the transport's live identity into the configured one.
// Identifiers missing from the configuration are filled in from live; an
// identifier present on both sides must agree, otherwise structured mention
// matching would silently never fire and ErrIdentityMismatch is returned.
func (b BotIdentity) Reconcile(live BotIdentity) (BotIdentity, error) {
	out := b
	if live.Number != "" {
		if out.Number == "" {
			out.Number = live.Number
		} else if normalizeNumber(out.Number) != normalizeNumber(live.Number) {
			return b, fmt.Errorf("%w: configured number %s, transport reports %s", ErrIdentityMismatch, out.Number, live.Number)
		}
	}
	if live.UUID != "" {
		if out.UUID == "" {
			out.UUID = live.UUID
		} else if !strings.EqualFold(out.UUID, live.UUID) {
			return b, fmt.Errorf("%w: configured uuid %s, transport reports %s", ErrIdentityMismatch, out.UUID, live.UUID)
		}
	}
	if out.Name == "" {
		out.Name = live.Name
	}
	return out, nil
}

// normalizeNumber strips formatting so "+1 555-000" and "+1555000" compare equal.
func normalizeNumber(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r == '+' || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
