// Package domain defines the core models for conversations and messages.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one the relay accepts from clients.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Message represents a single message in a conversation.
//
// Assistant content is mutable while its stream is in flight; user content is
// mutable only through an explicit edit, which stamps EditedAt.
type Message struct {
	MessageID string     `json:"message_id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

// NewMessage creates a message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// ChatMessage is the wire shape exchanged with the relay and the upstream
// provider: role and content only.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}
