package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	// TitleLimit is the maximum rune length of a derived conversation title.
	TitleLimit = 50

	// PreviewLimit is the maximum rune length of a conversation preview snippet.
	PreviewLimit = 80

	// DefaultTitle is the title of a conversation before its first message.
	DefaultTitle = "New Chat"

	// DefaultPreview is the preview of a conversation before its first message.
	DefaultPreview = "Say hello to start..."
)

// Conversation holds a titled, ordered thread of messages with its own
// sidebar metadata. Messages are in chronological insertion order.
type Conversation struct {
	ConversationID string     `json:"conversation_id"`
	Title          string     `json:"title"`
	Messages       []*Message `json:"messages"`
	Pinned         bool       `json:"pinned"`
	Folder         string     `json:"folder,omitempty"`
	Preview        string     `json:"preview"`
	MessageCount   int        `json:"message_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewConversation creates an empty conversation with a generated ID.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ConversationID: "conv_" + uuid.New().String()[:8],
		Title:          DefaultTitle,
		Messages:       make([]*Message, 0),
		Preview:        DefaultPreview,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Append adds a message and refreshes count and timestamp.
func (c *Conversation) Append(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.MessageCount = len(c.Messages)
	c.UpdatedAt = time.Now()
}

// Clone returns a deep copy safe to hand to readers while streams mutate the
// original.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		mc := *m
		out.Messages[i] = &mc
	}
	return &out
}

// FindMessage returns the message with the given ID, or nil.
func (c *Conversation) FindMessage(messageID string) *Message {
	for _, m := range c.Messages {
		if m.MessageID == messageID {
			return m
		}
	}
	return nil
}

// RemoveMessage deletes the message with the given ID, refreshing the count.
func (c *Conversation) RemoveMessage(messageID string) {
	for i, m := range c.Messages {
		if m.MessageID == messageID {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			c.MessageCount = len(c.Messages)
			return
		}
	}
}

// History returns the conversation as wire messages for a relay request.
func (c *Conversation) History() []ChatMessage {
	out := make([]ChatMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// Truncate shortens s to limit runes, appending "..." when cut.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// DeriveTitle produces a conversation title from the first user message.
func DeriveTitle(content string) string {
	return Truncate(content, TitleLimit)
}

// DerivePreview produces a sidebar preview snippet from message content.
// Unlike titles, previews are cut without an ellipsis.
func DerivePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLimit {
		return content
	}
	return string(runes[:PreviewLimit])
}
