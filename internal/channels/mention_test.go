package channels

import (
	"regexp"
	"testing"

	"github.com/shuv1337/shuvbot/internal/bus"
)

var testBot = bus.BotIdentity{
	Number: "+15550000000",
	UUID:   "1b4c2f9e-0000-4000-8000-00000000b07",
	Name:   "Shuv",
}

func TestMentionDetector_Structured(t *testing.T) {
	d := NewMentionDetector(nil)

	tests := []struct {
		name     string
		mentions []bus.MentionRecord
		want     bool
	}{
		{"none", nil, false},
		{"number", []bus.MentionRecord{{Number: "+15550000000"}}, true},
		{"uuid only", []bus.MentionRecord{{UUID: "1B4C2F9E-0000-4000-8000-00000000B07"}}, true},
		{"someone else", []bus.MentionRecord{{Number: "+15559999999", UUID: "other"}}, false},
		{"name alone never matches", []bus.MentionRecord{{Name: "Shuv"}}, false},
		{"second record", []bus.MentionRecord{{UUID: "other"}, {Number: "+1 555 000 0000"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := bus.InboundEvent{Body: "hi", Mentions: tt.mentions}
			if got := d.IsMentioned(ev, testBot); got != tt.want {
				t.Errorf("IsMentioned = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMentionDetector_PatternWithoutRecords(t *testing.T) {
	d := NewMentionDetector([]*regexp.Regexp{
		regexp.MustCompile(`(?i)\bshuvbot\b`),
		regexp.MustCompile(`(?i)^!ask`),
	})

	tests := []struct {
		body string
		want bool
	}{
		{"hey SHUVBOT what's up", true},
		{"!ask about the weather", true},
		{"please !ask", false},
		{"shuvbots everywhere", false},
		{"", false},
	}
	for _, tt := range tests {
		ev := bus.InboundEvent{Body: tt.body}
		if got := d.IsMentioned(ev, bus.BotIdentity{}); got != tt.want {
			t.Errorf("IsMentioned(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestDefaultMentionPatterns(t *testing.T) {
	d := NewMentionDetector(DefaultMentionPatterns(testBot))

	tests := []struct {
		body string
		want bool
	}{
		{"@shuv can you help", true},
		{"hello @Shuv.", true},
		{"@shuvel is someone else", false},
		{"ping +15550000000", true},
		{"shuv without at sign", false},
	}
	for _, tt := range tests {
		if got := d.PatternMention(tt.body); got != tt.want {
			t.Errorf("PatternMention(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}

	punct := NewMentionDetector(DefaultMentionPatterns(bus.BotIdentity{Name: "Shuv.bot!"}))
	for body, want := range map[string]bool{
		"hey @Shuv.bot! are you there": true,
		"@shuv.bot!":                   true,
		"hey @Shuv.bot are you there":  false,
	} {
		if got := punct.PatternMention(body); got != want {
			t.Errorf("PatternMention(%q) with punctuated name = %v, want %v", body, got, want)
		}
	}

	if got := DefaultMentionPatterns(bus.BotIdentity{}); len(got) != 0 {
		t.Errorf("expected no default patterns for an empty identity, got %d", len(got))
	}
}
