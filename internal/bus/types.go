package bus

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// MentionRecord is one structured "this participant was tagged" annotation.
// Transports set at least one of Number or UUID.
type MentionRecord struct {
	Number string `json:"number,omitempty"`
	UUID   string `json:"uuid,omitempty"`
	Name   string `json:"name,omitempty"` // informational only, never matched
}

// InboundEvent is one normalized message occurrence from a channel.
// GroupID empty means a direct message.
type InboundEvent struct {
	Channel    string          `json:"channel"`
	AccountID  string          `json:"account_id"`
	SenderID   string          `json:"sender_id"`             // phone number when known, else uuid
	SenderUUID string          `json:"sender_uuid,omitempty"` // opaque stable id
	SenderName string          `json:"sender_name,omitempty"`
	GroupID    string          `json:"group_id,omitempty"`
	GroupName  string          `json:"group_name,omitempty"`
	Body       string          `json:"body"`
	Mentions   []MentionRecord `json:"mentions,omitempty"`
	Timestamp  int64           `json:"timestamp"` // unix ms, as delivered by the daemon
}

// IsGroup reports whether the event belongs to a group conversation.
func (e InboundEvent) IsGroup() bool { return e.GroupID != "" }

// PeerKind returns "group" or "direct".
func (e InboundEvent) PeerKind() string {
	if e.IsGroup() {
		return "group"
	}
	return "direct"
}

// ChatID is the conversation a reply should go to: the group for group
// events, otherwise the sender.
func (e InboundEvent) ChatID() string {
	if e.IsGroup() {
		return e.GroupID
	}
	return e.SenderID
}

// Fingerprint derives the dedupe identity from account, sender, conversation,
// delivery timestamp and body. Daemon sequence numbers are deliberately not
// part of it: they are not stable across reconnects.
func (e InboundEvent) Fingerprint() string {
	sum := sha256.Sum256([]byte(e.Body))
	return e.Channel + "|" + e.AccountID + "|" + e.SenderID + "|" + e.GroupID + "|" +
		strconv.FormatInt(e.Timestamp, 10) + "|" + hex.EncodeToString(sum[:8])
}

// ReceivedAt converts the delivery timestamp into a time.Time.
func (e InboundEvent) ReceivedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Route is the routing metadata attached to a passed event.
type Route struct {
	Channel   string `json:"channel"`
	AccountID string `json:"account_id"`
	PeerKind  string `json:"peer_kind"` // "direct" or "group"
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	GroupID   string `json:"group_id,omitempty"`
}

// RouteFor builds the routing metadata for an event.
func RouteFor(e InboundEvent) Route {
	return Route{
		Channel:   e.Channel,
		AccountID: e.AccountID,
		PeerKind:  e.PeerKind(),
		ChatID:    e.ChatID(),
		SenderID:  e.SenderID,
		GroupID:   e.GroupID,
	}
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	AccountID string            `json:"account_id"`
	ChatID    string            `json:"chat_id"`
	IsGroup   bool              `json:"is_group,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// EventHandler handles one inbound event. Returning an error stops the
// subscription that delivered it.
type EventHandler func(InboundEvent) error
