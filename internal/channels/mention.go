package channels

import (
	"regexp"
	"strings"

	"github.com/shuv1337/shuvbot/internal/bus"
)

// MentionDetector decides whether the bot was addressed in a message.
// Structured mentions and text patterns are independent signals; either one
// is enough.
type MentionDetector struct {
	patterns []*regexp.Regexp
}

// NewMentionDetector creates a detector over case-insensitive patterns.
func NewMentionDetector(patterns []*regexp.Regexp) *MentionDetector {
	return &MentionDetector{patterns: patterns}
}

// DefaultMentionPatterns builds the fallback patterns used when no
// mentionPatterns are configured: "@<display name>" and the bot's number.
func DefaultMentionPatterns(bot bus.BotIdentity) []*regexp.Regexp {
	var out []*regexp.Regexp
	if name := strings.TrimSpace(bot.Name); name != "" {
		expr := `(?i)@` + regexp.QuoteMeta(name)
		// \b only holds after a word character; "@Shuv.bot!" ends on its own.
		if isWordByte(name[len(name)-1]) {
			expr += `\b`
		}
		out = append(out, regexp.MustCompile(expr))
	}
	if num := strings.TrimSpace(bot.Number); num != "" {
		out = append(out, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(num)))
	}
	return out
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// IsMentioned reports whether ev addresses bot.
func (d *MentionDetector) IsMentioned(ev bus.InboundEvent, bot bus.BotIdentity) bool {
	return StructuredMention(ev.Mentions, bot) || d.PatternMention(ev.Body)
}

// StructuredMention is true when any mention record carries the bot's number
// or uuid. No records means no structured mention.
func StructuredMention(mentions []bus.MentionRecord, bot bus.BotIdentity) bool {
	for _, m := range mentions {
		if bot.Matches(m) {
			return true
		}
	}
	return false
}

// PatternMention is true when any configured pattern matches anywhere in body.
func (d *MentionDetector) PatternMention(body string) bool {
	if d == nil || body == "" {
		return false
	}
	for _, re := range d.patterns {
		if re.MatchString(body) {
			return true
		}
	}
	return false
}
