// Package store defines the local history snapshot interface and its SQLite
// implementation. It is a single-user convenience cache; the chat store works
// fully without it.
package store

import (
	"context"

	"github.com/degenetics/lootchat/domain"
)

// Store defines the interface for conversation history snapshots.
type Store interface {
	// Conversation operations
	SaveConversation(ctx context.Context, conv *domain.Conversation) error
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error

	// Message operations
	SaveMessage(ctx context.Context, conversationID string, msg *domain.Message) error
	GetMessages(ctx context.Context, conversationID string) ([]domain.Message, error)

	// Lifecycle
	Close() error
}
