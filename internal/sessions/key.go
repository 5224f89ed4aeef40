// Package sessions builds and parses route keys.
//
// Route keys identify a conversation for one bot account:
//
//	{channel}:{accountId}:{kind}:{peerId}
//
// Where {kind} is "direct" for DMs (peerId = sender) and "group" for group
// conversations (peerId = group id).
//
// Examples:
//
//	signal:+15559990000:direct:+15550001111
//	signal:+15559990000:group:Z3JvdXAtYWJj
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildRouteKey builds the canonical route key for a channel conversation.
func BuildRouteKey(channel, accountID string, kind PeerKind, peerID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", channel, accountID, kind, peerID)
}

// ParseRouteKey splits a route key into its parts. Group ids may contain ":"
// so only the first three separators are significant. ok is false when the
// key is not in the expected format.
func ParseRouteKey(key string) (channel, accountID string, kind PeerKind, peerID string, ok bool) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) < 4 || parts[0] == "" || parts[3] == "" {
		return "", "", "", "", false
	}
	kind = PeerKind(parts[2])
	if kind != PeerDirect && kind != PeerGroup {
		return "", "", "", "", false
	}
	return parts[0], parts[1], kind, parts[3], true
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
