package chat_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/degenetics/lootchat/chat"
	"github.com/degenetics/lootchat/domain"
	"github.com/degenetics/lootchat/tests/helpers"
)

// fakeStream replays scripted chunks. With a gate, each Recv waits for one
// token, so tests control delivery timing; cancellation unblocks it.
type fakeStream struct {
	ctx      context.Context
	chunks   []string
	finalErr error
	gate     chan struct{}
}

func (f *fakeStream) Recv() (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-f.ctx.Done():
			return "", f.ctx.Err()
		}
	}
	if len(f.chunks) == 0 {
		if f.finalErr != nil {
			return "", f.finalErr
		}
		return "", io.EOF
	}
	chunk := f.chunks[0]
	f.chunks = f.chunks[1:]
	return chunk, nil
}

func (f *fakeStream) Close() error { return nil }

// fakeRelay scripts the Streamer seen by the store.
type fakeRelay struct {
	mu        sync.Mutex
	calls     [][]domain.ChatMessage
	streamErr error
	chunks    []string
	finalErr  error
	gate      chan struct{}
}

func (f *fakeRelay) Stream(ctx context.Context, messages []domain.ChatMessage) (chat.TextStream, error) {
	f.mu.Lock()
	history := append([]domain.ChatMessage(nil), messages...)
	f.calls = append(f.calls, history)
	f.mu.Unlock()

	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &fakeStream{
		ctx:      ctx,
		chunks:   append([]string(nil), f.chunks...),
		finalErr: f.finalErr,
		gate:     f.gate,
	}, nil
}

func (f *fakeRelay) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitFor(t *testing.T, events <-chan chat.Event, want chat.EventType) chat.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestSendStreamsAssistantReply(t *testing.T) {
	relay := &fakeRelay{chunks: []string{"Hi", " there"}}
	st := chat.NewStore(relay, nil, zap.NewNop())
	defer st.Close()

	conv := st.NewConversation()
	events := st.Watch()

	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, "hello"))
	waitFor(t, events, chat.EventStreamDone)

	got, err := st.Get(conv.ConversationID)
	assert.NoError(t, err)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, domain.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "Hi there", got.Messages[1].Content)
	assert.Equal(t, "hello", got.Title)
	assert.Equal(t, "Hi there", got.Preview)
	assert.Equal(t, 2, got.MessageCount)
	assert.False(t, st.Thinking(conv.ConversationID))

	// The relay saw the full history including the just-appended user turn.
	assert.Equal(t, 1, relay.callCount())
	assert.Equal(t, []domain.ChatMessage{{Role: "user", Content: "hello"}}, relay.calls[0])
}

func TestSendChunkOrderPreserved(t *testing.T) {
	chunks := []string{"a", "b", "c", "d", "e", "f", "g"}
	relay := &fakeRelay{chunks: chunks}
	st := chat.NewStore(relay, nil, zap.NewNop())
	defer st.Close()

	conv := st.NewConversation()
	events := st.Watch()

	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, "go"))
	waitFor(t, events, chat.EventStreamDone)

	got, err := st.Get(conv.ConversationID)
	assert.NoError(t, err)
	assert.Equal(t, strings.Join(chunks, ""), got.Messages[1].Content)
}

func TestSendEmptyTextIsNoop(t *testing.T) {
	relay := &fakeRelay{}
	st := chat.NewStore(relay, nil, zap.NewNop())
	defer st.Close()

	conv := st.NewConversation()
	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, "   \n\t"))

	got, err := st.Get(conv.ConversationID)
	assert.NoError(t, err)
	assert.Empty(t, got.Messages)
	assert.Equal(t, 0, relay.callCount())
}

func TestSendUnknownConversation(t *testing.T) {
	st := chat.NewStore(&fakeRelay{}, nil, zap.NewNop())
	defer st.Close()

	err := st.Send(context.Background(), "conv_missing", "hello")
	assert.ErrorIs(t, err, chat.ErrConversationNotFound)
}

func TestTitleDerivedFromFirstMessageOnly(t *testing.T) {
	relay := &fakeRelay{chunks: []string{"ok"}}
	st := chat.NewStore(relay, nil, zap.NewNop())
	defer st.Close()

	conv := st.NewConversation()
	events := st.Watch()

	long := strings.Repeat("x", 60)
	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, long))
	waitFor(t, events, chat.EventStreamDone)

	got, _ := st.Get(conv.ConversationID)
	assert.Equal(t, strings.Repeat("x", 50)+"...", got.Title)

	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, "second"))
	waitFor(t, events, chat.EventStreamDone)

	got, _ = st.Get(conv.ConversationID)
	assert.Equal(t, strings.Repeat("x", 50)+"...", got.Title)
}

func TestStreamSetupErrorAppendsFallback(t *testing.T) {
	relay := &fakeRelay{streamErr: errors.New("relay error [500]: Failed to generate response")}
	st := chat.NewStore(relay, nil, zap.NewNop())
	defer st.Close()

	conv := st.NewConversation()
	events := st.Watch()

	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, "hello"))
	waitFor(t, events, chat.EventStreamError)

	got, _ := st.Get(conv.ConversationID)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, domain.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, chat.ErrorReply, got.Messages[1].Content)
	assert.False(t, st.Thinking(conv.ConversationID))
}

func TestMidStreamErrorDiscardsPartialContent(t *testing.T) {
	relay := &fakeRelay{chunks: []string{"par", "tial"}, finalErr: errors.New("connection reset")}
	st := chat.NewStore(relay, nil, zap.NewNop())
	defer st.Close()

	conv := st.NewConversation()
	events := st.Watch()

	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, "hello"))
	waitFor(t, events, chat.EventStreamError)

	got, _ := st.Get(conv.ConversationID)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.Equal(t, chat.ErrorReply, got.Messages[1].Content)
	for _, m := range got.Messages {
		assert.NotContains(t, m.Content, "par")
	}
}

func TestThinkingClearedOnFirstChunk(t *testing.T) {
	gate := make(chan struct{}, 8)
	relay := &fakeRelay{chunks: []string{"c1", "c2"}, gate: gate}
	st := chat.NewStore(relay, nil, zap.NewNop())
	defer st.Close()

	conv := st.NewConversation()
	events := st.Watch()

	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, "hello"))
	assert.True(t, st.Thinking(conv.ConversationID))

	gate <- struct{}{}
	waitFor(t, events, chat.EventStreamDelta)
	assert.False(t, st.Thinking(conv.ConversationID))

	gate <- struct{}{}
	gate <- struct{}{}
	waitFor(t, events, chat.EventStreamDone)
}

func TestPauseStopsFurtherMutation(t *testing.T) {
	gate := make(chan struct{}, 8)
	relay := &fakeRelay{chunks: []string{"c1", "c2", "c3"}, gate: gate}
	st := chat.NewStore(relay, nil, zap.NewNop())

	conv := st.NewConversation()
	events := st.Watch()

	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, "hello"))
	gate <- struct{}{}
	waitFor(t, events, chat.EventStreamDelta)

	st.Pause(conv.ConversationID)
	assert.False(t, st.Thinking(conv.ConversationID))

	// Wait for the stream goroutine to observe cancellation.
	st.Close()

	got, _ := st.Get(conv.ConversationID)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, "c1", got.Messages[1].Content)
	// Pause is not an error: no fallback reply is appended.
	for _, m := range got.Messages {
		assert.NotEqual(t, chat.ErrorReply, m.Content)
	}
}

func TestConcurrentSendOnSameConversationRejected(t *testing.T) {
	gate := make(chan struct{}, 8)
	relay := &fakeRelay{chunks: []string{"c1"}, gate: gate}
	st := chat.NewStore(relay, nil, zap.NewNop())
	defer st.Close()

	conv := st.NewConversation()

	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, "first"))
	err := st.Send(context.Background(), conv.ConversationID, "second")
	assert.ErrorIs(t, err, chat.ErrStreamInFlight)

	st.Pause(conv.ConversationID)
}

func TestIndependentConversationsStreamConcurrently(t *testing.T) {
	gate := make(chan struct{}, 8)
	relay := &fakeRelay{chunks: []string{"reply"}, gate: gate}
	st := chat.NewStore(relay, nil, zap.NewNop())
	defer st.Close()

	a := st.NewConversation()
	b := st.NewConversation()
	events := st.Watch()

	assert.NoError(t, st.Send(context.Background(), a.ConversationID, "to a"))
	// A second conversation stays interactive while the first is thinking.
	assert.True(t, st.Thinking(a.ConversationID))
	assert.NoError(t, st.Send(context.Background(), b.ConversationID, "to b"))
	assert.True(t, st.Thinking(b.ConversationID))

	for i := 0; i < 2; i++ {
		gate <- struct{}{}
		gate <- struct{}{}
	}
	waitFor(t, events, chat.EventStreamDone)
	waitFor(t, events, chat.EventStreamDone)

	gotA, _ := st.Get(a.ConversationID)
	gotB, _ := st.Get(b.ConversationID)
	assert.Equal(t, "reply", gotA.Messages[1].Content)
	assert.Equal(t, "reply", gotB.Messages[1].Content)
}

func TestEditMessageStampsEditedAt(t *testing.T) {
	relay := &fakeRelay{chunks: []string{"ok"}}
	st := chat.NewStore(relay, nil, zap.NewNop())
	defer st.Close()

	conv := st.NewConversation()
	events := st.Watch()

	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, "hello"))
	waitFor(t, events, chat.EventStreamDone)

	got, _ := st.Get(conv.ConversationID)
	userID := got.Messages[0].MessageID
	calls := relay.callCount()

	assert.NoError(t, st.EditMessage(conv.ConversationID, userID, "hello edited"))

	got, _ = st.Get(conv.ConversationID)
	assert.Equal(t, "hello edited", got.Messages[0].Content)
	assert.NotNil(t, got.Messages[0].EditedAt)
	// Edit does not resend.
	assert.Equal(t, calls, relay.callCount())

	err := st.EditMessage(conv.ConversationID, "msg_missing", "x")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
}

func TestResendAppendsWithoutTruncating(t *testing.T) {
	relay := &fakeRelay{chunks: []string{"ok"}}
	st := chat.NewStore(relay, nil, zap.NewNop())
	defer st.Close()

	conv := st.NewConversation()
	events := st.Watch()

	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, "hello"))
	waitFor(t, events, chat.EventStreamDone)

	got, _ := st.Get(conv.ConversationID)
	userID := got.Messages[0].MessageID

	assert.NoError(t, st.ResendMessage(context.Background(), conv.ConversationID, userID))
	waitFor(t, events, chat.EventStreamDone)

	got, _ = st.Get(conv.ConversationID)
	// Append-only: user, assistant, user again, assistant again.
	assert.Len(t, got.Messages, 4)
	assert.Equal(t, "hello", got.Messages[2].Content)
	assert.Equal(t, 2, relay.callCount())
	// The resend carried the whole history up to that point.
	assert.Len(t, relay.calls[1], 3)
}

func TestTogglePin(t *testing.T) {
	st := chat.NewStore(&fakeRelay{}, nil, zap.NewNop())
	defer st.Close()

	conv := st.NewConversation()
	assert.NoError(t, st.TogglePin(conv.ConversationID))
	got, _ := st.Get(conv.ConversationID)
	assert.True(t, got.Pinned)

	assert.NoError(t, st.TogglePin(conv.ConversationID))
	got, _ = st.Get(conv.ConversationID)
	assert.False(t, got.Pinned)
}

func TestDeleteConversation(t *testing.T) {
	st := chat.NewStore(&fakeRelay{}, nil, zap.NewNop())
	defer st.Close()

	conv := st.NewConversation()
	assert.NoError(t, st.DeleteConversation(conv.ConversationID))

	_, err := st.Get(conv.ConversationID)
	assert.ErrorIs(t, err, chat.ErrConversationNotFound)
	assert.ErrorIs(t, st.DeleteConversation(conv.ConversationID), chat.ErrConversationNotFound)
}

func TestHistoryWriteThroughAndLoad(t *testing.T) {
	history := helpers.NewTestSQLiteStore(t)
	relay := &fakeRelay{chunks: []string{"Hi", " there"}}

	st := chat.NewStore(relay, history, zap.NewNop())
	conv := st.NewConversation()
	events := st.Watch()

	assert.NoError(t, st.Send(context.Background(), conv.ConversationID, "hello"))
	waitFor(t, events, chat.EventStreamDone)
	st.Close()

	// A fresh store hydrates the snapshot.
	st2 := chat.NewStore(relay, history, zap.NewNop())
	defer st2.Close()
	assert.NoError(t, st2.Load(context.Background()))

	got, err := st2.Get(conv.ConversationID)
	assert.NoError(t, err)
	assert.Equal(t, "hello", got.Title)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, "Hi there", got.Messages[1].Content)
}
