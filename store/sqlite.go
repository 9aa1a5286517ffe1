package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/degenetics/lootchat/domain"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			pinned INTEGER NOT NULL DEFAULT 0,
			folder TEXT,
			preview TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			edited_at DATETIME,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveConversation upserts conversation metadata. Messages are saved
// separately.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *domain.Conversation) error {
	var folder sql.NullString
	if conv.Folder != "" {
		folder = sql.NullString{String: conv.Folder, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, title, pinned, folder, preview, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
			title = excluded.title,
			pinned = excluded.pinned,
			folder = excluded.folder,
			preview = excluded.preview,
			updated_at = excluded.updated_at`,
		conv.ConversationID, conv.Title, conv.Pinned, folder, conv.Preview, conv.CreatedAt, conv.UpdatedAt)
	return err
}

// ListConversations retrieves conversation metadata, most recently updated
// first. Message lists are loaded per conversation via GetMessages.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, title, pinned, folder, preview, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var folder sql.NullString
		if err := rows.Scan(&conv.ConversationID, &conv.Title, &conv.Pinned, &folder, &conv.Preview, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		if folder.Valid {
			conv.Folder = folder.String
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// DeleteConversation removes a conversation and its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE conversation_id = ?`, conversationID)
	return err
}

// SaveMessage upserts a message. Streaming updates the same row's content.
func (s *SQLiteStore) SaveMessage(ctx context.Context, conversationID string, msg *domain.Message) error {
	var editedAt sql.NullTime
	if msg.EditedAt != nil {
		editedAt = sql.NullTime{Time: *msg.EditedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, role, content, created_at, edited_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(message_id) DO UPDATE SET
			content = excluded.content,
			edited_at = excluded.edited_at`,
		msg.MessageID, conversationID, string(msg.Role), msg.Content, msg.CreatedAt, editedAt)
	return err
}

// GetMessages retrieves a conversation's messages in chronological order.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, role, content, created_at, edited_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, message_id ASC`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var editedAt sql.NullTime
		if err := rows.Scan(&msg.MessageID, &role, &msg.Content, &msg.CreatedAt, &editedAt); err != nil {
			return nil, err
		}
		msg.Role = domain.Role(role)
		if editedAt.Valid {
			msg.EditedAt = &editedAt.Time
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
