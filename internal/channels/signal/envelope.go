// Package signal adapts signal-cli-rest-api to the channel gate: it turns
// receive envelopes into bus.InboundEvent values and delivers replies through
// the REST send endpoint.
package signal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shuv1337/shuvbot/internal/bus"
)

// ChannelName is the channel identifier used in events, routes and stores.
const ChannelName = "signal"

type envelope struct {
	Source       string       `json:"source"`
	SourceNumber string       `json:"sourceNumber"`
	SourceUUID   string       `json:"sourceUuid"`
	SourceName   string       `json:"sourceName"`
	Timestamp    int64        `json:"timestamp"`
	DataMessage  *dataMessage `json:"dataMessage"`
}

type dataMessage struct {
	Timestamp int64      `json:"timestamp"`
	Message   *string    `json:"message"`
	GroupInfo *groupInfo `json:"groupInfo"`
	Mentions  []mention  `json:"mentions"`
}

type groupInfo struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
}

type mention struct {
	Number string `json:"number"`
	UUID   string `json:"uuid"`
	Name   string `json:"name"`
}

// receiveFrame covers both the plain {"envelope":...} shape and the json-rpc
// notification {"jsonrpc":"2.0","method":"receive","params":{"envelope":...}}.
type receiveFrame struct {
	Envelope *envelope     `json:"envelope"`
	Account  string        `json:"account"`
	Method   string        `json:"method"`
	Params   *receiveFrame `json:"params"`
}

// ParseEvent decodes one receive payload into an inbound event for
// accountID. ok is false for payloads that carry no user message (receipts,
// typing indicators, sync messages, reactions) and for messages sent by
// self, the bot's own number.
func ParseEvent(data []byte, accountID, self string) (ev bus.InboundEvent, ok bool, err error) {
	var frame receiveFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ev, false, fmt.Errorf("signal: decode receive payload: %w", err)
	}
	if frame.Params != nil {
		if frame.Method != "" && frame.Method != "receive" {
			return ev, false, nil
		}
		frame = *frame.Params
	}

	env := frame.Envelope
	if env == nil || env.DataMessage == nil || env.DataMessage.Message == nil {
		return ev, false, nil
	}
	body := *env.DataMessage.Message
	if strings.TrimSpace(body) == "" {
		return ev, false, nil
	}

	sender := firstNonEmpty(env.SourceNumber, env.Source, env.SourceUUID)
	if sender == "" {
		return ev, false, nil
	}
	if self != "" && sender == self {
		return ev, false, nil
	}

	ev = bus.InboundEvent{
		Channel:    ChannelName,
		AccountID:  accountID,
		SenderID:   sender,
		SenderUUID: env.SourceUUID,
		SenderName: env.SourceName,
		Body:       body,
		Timestamp:  env.Timestamp,
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = env.DataMessage.Timestamp
	}
	if g := env.DataMessage.GroupInfo; g != nil {
		ev.GroupID = g.GroupID
		ev.GroupName = g.GroupName
	}
	for _, m := range env.DataMessage.Mentions {
		if m.Number == "" && m.UUID == "" {
			continue
		}
		ev.Mentions = append(ev.Mentions, bus.MentionRecord{Number: m.Number, UUID: m.UUID, Name: m.Name})
	}
	return ev, true, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
