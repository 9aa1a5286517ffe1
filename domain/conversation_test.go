package domain

import (
	"strings"
	"testing"
)

func TestDeriveTitle(t *testing.T) {
	if got := DeriveTitle("hello"); got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}

	long := strings.Repeat("a", 60)
	if got := DeriveTitle(long); got != strings.Repeat("a", 50)+"..." {
		t.Fatalf("unexpected truncated title %q", got)
	}

	// Exactly at the limit: no ellipsis.
	exact := strings.Repeat("a", 50)
	if got := DeriveTitle(exact); got != exact {
		t.Fatalf("expected %q, got %q", exact, got)
	}

	// Rune-aware, not byte-aware.
	runes := strings.Repeat("é", 55)
	if got := DeriveTitle(runes); got != strings.Repeat("é", 50)+"..." {
		t.Fatalf("unexpected multi-byte title %q", got)
	}
}

func TestDerivePreview(t *testing.T) {
	if got := DerivePreview("short"); got != "short" {
		t.Fatalf("expected %q, got %q", "short", got)
	}

	long := strings.Repeat("b", 100)
	got := DerivePreview(long)
	if got != strings.Repeat("b", 80) {
		t.Fatalf("unexpected preview %q", got)
	}
	// Previews are cut without an ellipsis.
	if strings.HasSuffix(got, "...") {
		t.Fatalf("preview should not carry an ellipsis: %q", got)
	}
}

func TestConversationAppendAndRemove(t *testing.T) {
	conv := NewConversation()
	if conv.Title != DefaultTitle || conv.Preview != DefaultPreview {
		t.Fatalf("unexpected defaults: %+v", conv)
	}

	a := NewMessage(RoleUser, "one")
	b := NewMessage(RoleAssistant, "two")
	conv.Append(a)
	conv.Append(b)
	if conv.MessageCount != 2 {
		t.Fatalf("expected count 2, got %d", conv.MessageCount)
	}
	if conv.FindMessage(a.MessageID) != a {
		t.Fatalf("FindMessage missed existing message")
	}
	if conv.FindMessage("msg_missing") != nil {
		t.Fatalf("FindMessage found a ghost")
	}

	conv.RemoveMessage(a.MessageID)
	if conv.MessageCount != 1 || conv.Messages[0] != b {
		t.Fatalf("unexpected state after remove: %+v", conv.Messages)
	}
}

func TestConversationCloneIsDeep(t *testing.T) {
	conv := NewConversation()
	conv.Append(NewMessage(RoleUser, "original"))

	clone := conv.Clone()
	clone.Messages[0].Content = "mutated"

	if conv.Messages[0].Content != "original" {
		t.Fatalf("clone shares message storage with original")
	}
}

func TestConversationHistory(t *testing.T) {
	conv := NewConversation()
	conv.Append(NewMessage(RoleUser, "q"))
	conv.Append(NewMessage(RoleAssistant, "a"))

	history := conv.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 wire messages, got %d", len(history))
	}
	if history[0].Role != "user" || history[0].Content != "q" {
		t.Fatalf("unexpected first entry: %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].Content != "a" {
		t.Fatalf("unexpected second entry: %+v", history[1])
	}
}
