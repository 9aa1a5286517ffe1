// Package relay implements the streaming bridge between the chat client and
// the upstream chat-completion provider: it forwards a message history with
// streaming enabled and decodes the provider's SSE frames into plain text.
package relay

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/degenetics/lootchat/domain"
)

// dataPrefix marks an SSE data frame.
const dataPrefix = "data: "

// doneSentinel terminates the upstream stream.
const doneSentinel = "[DONE]"

// StreamChunk represents a single decoded SSE chunk from the stream.
type StreamChunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Choice represents a completion choice within a chunk.
type Choice struct {
	Index        int                 `json:"index"`
	Delta        *domain.ChatMessage `json:"delta,omitempty"`
	Message      *domain.ChatMessage `json:"message,omitempty"`
	FinishReason string              `json:"finish_reason,omitempty"`
}

// DeltaDecoder incrementally decodes an SSE chat-completion stream into text
// deltas. It is fed raw transport chunks of any size; partial lines are
// buffered until their newline arrives, so a UTF-8 sequence or frame split
// across chunk boundaries is reassembled before parsing. Malformed frames are
// skipped rather than failing the stream, since upstream streams may carry
// heartbeat or control frames outside the delta shape.
//
// The zero value is ready to use.
type DeltaDecoder struct {
	buf  []byte
	done bool
}

// Feed consumes the next transport chunk and returns the text deltas of every
// frame completed by it, in stream order. After the [DONE] sentinel has been
// seen, Feed drains input without producing output.
func (d *DeltaDecoder) Feed(p []byte) []string {
	d.buf = append(d.buf, p...)

	var deltas []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]

		if delta, ok := d.decodeLine(line); ok {
			deltas = append(deltas, delta)
		}
	}
	return deltas
}

// Done reports whether the [DONE] sentinel has been observed.
func (d *DeltaDecoder) Done() bool {
	return d.done
}

// decodeLine extracts the text delta from one frame line, if any.
func (d *DeltaDecoder) decodeLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || d.done {
		return "", false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}

	data := strings.TrimPrefix(line, dataPrefix)
	if data == doneSentinel {
		d.done = true
		return "", false
	}

	var chunk StreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		// Skip malformed frames
		return "", false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
		return "", false
	}
	content := chunk.Choices[0].Delta.Content
	if content == "" {
		return "", false
	}
	return content, true
}
