package signal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/shuv1337/shuvbot/internal/bus"
)

const maxLineBytes = 1 << 20 // 1MB

// StreamSource reads newline-delimited receive payloads (for example
// `signal-cli -o json receive` piped into stdin). Server-sent-event framing
// is tolerated: "data:" prefixes are stripped and "event:" lines skipped.
type StreamSource struct {
	r         io.Reader
	accountID string
	self      string
}

// NewStreamSource creates a source for accountID. self is the bot number,
// used to drop the bot's own messages.
func NewStreamSource(r io.Reader, accountID, self string) *StreamSource {
	return &StreamSource{r: r, accountID: accountID, self: self}
}

// Subscribe delivers events until the reader is exhausted, ctx is cancelled
// or handler returns an error. Malformed lines are logged and skipped.
func (s *StreamSource) Subscribe(ctx context.Context, handler bus.EventHandler) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		line, ok := payloadLine(line)
		if !ok {
			continue
		}

		ev, ok, err := ParseEvent(line, s.accountID, s.self)
		if err != nil {
			slog.Warn("signal: skipping malformed line", "account_id", s.accountID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if err := handler(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("signal: read stream: %w", err)
	}
	return nil
}

// payloadLine extracts the JSON payload from a stream line.
func payloadLine(line []byte) ([]byte, bool) {
	switch {
	case len(line) == 0:
		return nil, false
	case bytes.HasPrefix(line, []byte("data:")):
		line = bytes.TrimSpace(line[len("data:"):])
		return line, len(line) > 0
	case line[0] != '{':
		// "event: receive", ": keepalive", "id: 3"
		return nil, false
	}
	return line, true
}
