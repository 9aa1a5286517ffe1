package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/degenetics/lootchat/domain"
	"github.com/degenetics/lootchat/store"
)

// ErrorReply is the fixed assistant turn appended when a stream fails.
const ErrorReply = "Sorry, I encountered an error. Please try again."

var (
	// ErrConversationNotFound is returned for an unknown conversation ID.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound is returned for an unknown message ID.
	ErrMessageNotFound = errors.New("message not found")

	// ErrStreamInFlight is returned when a Send targets a conversation that
	// already has an active stream. Different conversations stream
	// independently.
	ErrStreamInFlight = errors.New("conversation already has a stream in flight")
)

// EventType classifies store change events.
type EventType string

const (
	EventConversationCreated EventType = "conversation_created"
	EventConversationUpdated EventType = "conversation_updated"
	EventMessageAppended     EventType = "message_appended"
	EventThinking            EventType = "thinking"
	EventStreamDelta         EventType = "stream_delta"
	EventStreamDone          EventType = "stream_done"
	EventStreamError         EventType = "stream_error"
)

// Event is a store change notification. Consumers re-read state on receipt;
// rapidly arriving deltas may be dropped for a slow consumer, never reordered.
type Event struct {
	Type           EventType
	ConversationID string
	MessageID      string
	Delta          string
	Thinking       bool
}

// session tracks one in-flight relay stream for a conversation.
type session struct {
	assistantID string
	cancel      context.CancelFunc
}

// Store owns the conversation list and all mutations to it. UI layers are
// read-only consumers driven by Watch events. Not a singleton: construct one
// and pass it to whoever needs it.
type Store struct {
	mu            sync.RWMutex
	conversations []*domain.Conversation // newest first
	index         map[string]*domain.Conversation
	sessions      map[string]*session
	thinking      map[string]bool

	relay   Streamer
	history store.Store // optional snapshot cache, may be nil
	logger  *zap.Logger

	wmu      sync.Mutex
	watchers []chan Event

	wg sync.WaitGroup
}

// NewStore creates a conversation store. history may be nil to disable
// snapshots.
func NewStore(relay Streamer, history store.Store, logger *zap.Logger) *Store {
	return &Store{
		index:    make(map[string]*domain.Conversation),
		sessions: make(map[string]*session),
		thinking: make(map[string]bool),
		relay:    relay,
		history:  history,
		logger:   logger,
	}
}

// NewConversation creates an empty conversation at the head of the list and
// returns its snapshot.
func (s *Store) NewConversation() *domain.Conversation {
	conv := domain.NewConversation()

	s.mu.Lock()
	s.conversations = append([]*domain.Conversation{conv}, s.conversations...)
	s.index[conv.ConversationID] = conv
	snapshot := conv.Clone()
	s.mu.Unlock()

	s.persistConversation(snapshot)
	s.notify(Event{Type: EventConversationCreated, ConversationID: conv.ConversationID})
	return snapshot
}

// Conversations returns snapshots of all conversations, newest first.
func (s *Store) Conversations() []*domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = c.Clone()
	}
	return out
}

// Get returns a snapshot of one conversation.
func (s *Store) Get(conversationID string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.index[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

// Thinking reports whether the conversation is awaiting its first byte.
func (s *Store) Thinking(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thinking[conversationID]
}

// Send appends text as a user message and streams the assistant reply into
// the conversation. Empty (after trimming) text is a no-op. A conversation
// can have at most one stream in flight; concurrent sends to other
// conversations proceed independently.
func (s *Store) Send(ctx context.Context, conversationID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	conv, ok := s.index[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	if _, busy := s.sessions[conversationID]; busy {
		s.mu.Unlock()
		return ErrStreamInFlight
	}

	userMsg := domain.NewMessage(domain.RoleUser, text)
	first := len(conv.Messages) == 0
	conv.Append(userMsg)
	if first {
		conv.Title = domain.DeriveTitle(text)
	}
	conv.Preview = domain.DerivePreview(text)
	s.thinking[conversationID] = true

	history := conv.History()
	snapshot := conv.Clone()

	streamCtx, cancel := context.WithCancel(ctx)
	sess := &session{cancel: cancel}
	s.sessions[conversationID] = sess
	s.mu.Unlock()

	s.persistConversation(snapshot)
	s.persistMessage(conversationID, userMsg)
	s.notify(Event{Type: EventMessageAppended, ConversationID: conversationID, MessageID: userMsg.MessageID})
	s.notify(Event{Type: EventThinking, ConversationID: conversationID, Thinking: true})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consume(streamCtx, conversationID, sess, history)
	}()

	return nil
}

// consume runs one relay stream to completion, applying chunks in arrival
// order. Every exit path clears the thinking flag.
func (s *Store) consume(ctx context.Context, conversationID string, sess *session, history []domain.ChatMessage) {
	defer sess.cancel()

	stream, err := s.relay.Stream(ctx, history)
	if err != nil {
		s.finishWithError(conversationID, sess, err)
		return
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			s.finish(conversationID, sess)
			return
		}
		if err != nil {
			s.finishWithError(conversationID, sess, err)
			return
		}
		if !s.applyChunk(conversationID, sess, chunk) {
			// Session superseded by Pause; discard late chunks.
			return
		}
	}
}

// applyChunk appends one chunk to the in-flight assistant message. The first
// chunk clears thinking and creates the placeholder. Returns false when the
// session is no longer current.
func (s *Store) applyChunk(conversationID string, sess *session, chunk string) bool {
	var events []Event

	s.mu.Lock()
	if s.sessions[conversationID] != sess {
		s.mu.Unlock()
		return false
	}
	conv := s.index[conversationID]

	if sess.assistantID == "" {
		delete(s.thinking, conversationID)
		asst := domain.NewMessage(domain.RoleAssistant, "")
		conv.Append(asst)
		sess.assistantID = asst.MessageID
		events = append(events,
			Event{Type: EventThinking, ConversationID: conversationID, Thinking: false},
			Event{Type: EventMessageAppended, ConversationID: conversationID, MessageID: asst.MessageID},
		)
	}

	msg := conv.FindMessage(sess.assistantID)
	msg.Content += chunk
	conv.Preview = domain.DerivePreview(msg.Content)
	conv.UpdatedAt = time.Now()
	s.mu.Unlock()

	events = append(events, Event{
		Type:           EventStreamDelta,
		ConversationID: conversationID,
		MessageID:      sess.assistantID,
		Delta:          chunk,
	})
	for _, ev := range events {
		s.notify(ev)
	}
	return true
}

// finish completes a stream normally.
func (s *Store) finish(conversationID string, sess *session) {
	s.mu.Lock()
	if s.sessions[conversationID] != sess {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, conversationID)
	delete(s.thinking, conversationID)

	conv := s.index[conversationID]
	var asst *domain.Message
	if sess.assistantID != "" {
		if m := conv.FindMessage(sess.assistantID); m != nil {
			mc := *m
			asst = &mc
		}
	}
	snapshot := conv.Clone()
	s.mu.Unlock()

	s.persistConversation(snapshot)
	if asst != nil {
		s.persistMessage(conversationID, asst)
	}
	s.notify(Event{Type: EventThinking, ConversationID: conversationID, Thinking: false})
	s.notify(Event{Type: EventStreamDone, ConversationID: conversationID, MessageID: sess.assistantID})
}

// finishWithError tears down a failed stream: partial assistant content is
// discarded and a single fixed apology turn is appended in its place. A
// session cancelled by Pause is not an error and appends nothing.
func (s *Store) finishWithError(conversationID string, sess *session, cause error) {
	s.mu.Lock()
	if s.sessions[conversationID] != sess {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, conversationID)
	delete(s.thinking, conversationID)

	conv := s.index[conversationID]
	if sess.assistantID != "" {
		conv.RemoveMessage(sess.assistantID)
	}
	errMsg := domain.NewMessage(domain.RoleAssistant, ErrorReply)
	conv.Append(errMsg)
	conv.Preview = domain.DerivePreview(errMsg.Content)
	snapshot := conv.Clone()
	s.mu.Unlock()

	s.logger.Warn("stream failed",
		zap.String("conversation_id", conversationID),
		zap.Error(cause))

	s.persistConversation(snapshot)
	s.persistMessage(conversationID, errMsg)
	s.notify(Event{Type: EventThinking, ConversationID: conversationID, Thinking: false})
	s.notify(Event{Type: EventMessageAppended, ConversationID: conversationID, MessageID: errMsg.MessageID})
	s.notify(Event{Type: EventStreamError, ConversationID: conversationID})
}

// Pause cancels the conversation's in-flight stream, if any. The request is
// aborted and chunks still in transit are discarded; whatever content has
// already been applied stays.
func (s *Store) Pause(conversationID string) {
	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, conversationID)
	delete(s.thinking, conversationID)
	assistantID := sess.assistantID
	s.mu.Unlock()

	sess.cancel()
	s.notify(Event{Type: EventThinking, ConversationID: conversationID, Thinking: false})
	s.notify(Event{Type: EventStreamDone, ConversationID: conversationID, MessageID: assistantID})
}

// EditMessage replaces a message's content and stamps EditedAt. It does not
// resend.
func (s *Store) EditMessage(conversationID, messageID, newContent string) error {
	s.mu.Lock()
	conv, ok := s.index[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	msg := conv.FindMessage(messageID)
	if msg == nil {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	now := time.Now()
	msg.Content = newContent
	msg.EditedAt = &now
	if last := len(conv.Messages) - 1; last >= 0 {
		conv.Preview = domain.DerivePreview(conv.Messages[last].Content)
	}
	mc := *msg
	snapshot := conv.Clone()
	s.mu.Unlock()

	s.persistConversation(snapshot)
	s.persistMessage(conversationID, &mc)
	s.notify(Event{Type: EventConversationUpdated, ConversationID: conversationID, MessageID: messageID})
	return nil
}

// ResendMessage re-sends the target message's current content as a new turn.
// History after the message is kept: this is an append-only resend, not a
// branch.
func (s *Store) ResendMessage(ctx context.Context, conversationID, messageID string) error {
	s.mu.RLock()
	conv, ok := s.index[conversationID]
	if !ok {
		s.mu.RUnlock()
		return ErrConversationNotFound
	}
	msg := conv.FindMessage(messageID)
	if msg == nil {
		s.mu.RUnlock()
		return ErrMessageNotFound
	}
	content := msg.Content
	s.mu.RUnlock()

	return s.Send(ctx, conversationID, content)
}

// TogglePin flips the conversation's pinned flag.
func (s *Store) TogglePin(conversationID string) error {
	s.mu.Lock()
	conv, ok := s.index[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv.Pinned = !conv.Pinned
	snapshot := conv.Clone()
	s.mu.Unlock()

	s.persistConversation(snapshot)
	s.notify(Event{Type: EventConversationUpdated, ConversationID: conversationID})
	return nil
}

// DeleteConversation removes a conversation, cancelling any in-flight stream.
func (s *Store) DeleteConversation(conversationID string) error {
	s.mu.Lock()
	if _, ok := s.index[conversationID]; !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	sess := s.sessions[conversationID]
	delete(s.sessions, conversationID)
	delete(s.thinking, conversationID)
	delete(s.index, conversationID)
	for i, c := range s.conversations {
		if c.ConversationID == conversationID {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if sess != nil {
		sess.cancel()
	}
	if s.history != nil {
		if err := s.history.DeleteConversation(context.Background(), conversationID); err != nil {
			s.logger.Warn("failed to delete conversation snapshot", zap.Error(err))
		}
	}
	s.notify(Event{Type: EventConversationUpdated, ConversationID: conversationID})
	return nil
}

// Load hydrates the store from the history snapshot. Call before any sends.
func (s *Store) Load(ctx context.Context) error {
	if s.history == nil {
		return nil
	}

	convs, err := s.history.ListConversations(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range convs {
		conv := convs[i]
		messages, err := s.history.GetMessages(ctx, conv.ConversationID)
		if err != nil {
			return err
		}
		conv.Messages = make([]*domain.Message, len(messages))
		for j := range messages {
			conv.Messages[j] = &messages[j]
		}
		conv.MessageCount = len(conv.Messages)
		c := conv
		s.conversations = append(s.conversations, &c)
		s.index[c.ConversationID] = &c
	}
	return nil
}

// Close cancels all in-flight streams, waits for them to settle, and closes
// watcher channels.
func (s *Store) Close() {
	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.cancel()
		delete(s.sessions, id)
		delete(s.thinking, id)
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.wmu.Lock()
	for _, ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil
	s.wmu.Unlock()
}

// Watch subscribes to store change events. The channel is closed by Close.
func (s *Store) Watch() <-chan Event {
	ch := make(chan Event, 64)
	s.wmu.Lock()
	s.watchers = append(s.watchers, ch)
	s.wmu.Unlock()
	return ch
}

// notify fans an event out to watchers without blocking; a full watcher
// misses the event and re-reads state on the next one.
func (s *Store) notify(ev Event) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Store) persistConversation(conv *domain.Conversation) {
	if s.history == nil {
		return
	}
	if err := s.history.SaveConversation(context.Background(), conv); err != nil {
		s.logger.Warn("failed to persist conversation", zap.Error(err))
	}
}

func (s *Store) persistMessage(conversationID string, msg *domain.Message) {
	if s.history == nil {
		return
	}
	if err := s.history.SaveMessage(context.Background(), conversationID, msg); err != nil {
		s.logger.Warn("failed to persist message", zap.Error(err))
	}
}
