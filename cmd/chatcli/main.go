// Package main provides a line-based terminal client for a running relay
// server. Each prompt streams the assistant reply token by token.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"

	"github.com/degenetics/lootchat/chat"
	"github.com/degenetics/lootchat/store"
)

func main() {
	serverURL := flag.String("server", "http://localhost:3000", "relay server URL")
	historyPath := flag.String("history", "", "SQLite history file (empty disables history)")
	flag.Parse()

	logger, err := zap.NewProduction(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var history store.Store
	if *historyPath != "" {
		history, err = store.NewSQLiteStore(*historyPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open history: %v\n", err)
			os.Exit(1)
		}
		defer history.Close()
	}

	st := chat.NewStore(chat.NewClient(*serverURL), history, logger)
	defer st.Close()

	ctx := context.Background()
	if err := st.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load history: %v\n", err)
		os.Exit(1)
	}

	conv := st.NewConversation()
	events := st.Watch()

	// Ctrl-C pauses the in-flight stream instead of killing the client.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		for range interrupt {
			st.Pause(conv.ConversationID)
		}
	}()

	fmt.Printf("Connected to %s. Type a message, /new for a new chat, /quit to exit.\n", *serverURL)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/new":
			conv = st.NewConversation()
			drain(events)
			fmt.Println("Started a new chat.")
			continue
		case line == "/list":
			for _, c := range st.Conversations() {
				pin := " "
				if c.Pinned {
					pin = "*"
				}
				fmt.Printf("%s %s  %s — %s\n", pin, c.ConversationID, c.Title, c.Preview)
			}
			continue
		}

		if err := st.Send(ctx, conv.ConversationID, line); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			continue
		}

		printReply(events, conv.ConversationID)
	}
}

// printReply consumes store events until the current stream settles, writing
// deltas as they arrive.
func printReply(events <-chan chat.Event, conversationID string) {
	for ev := range events {
		if ev.ConversationID != conversationID {
			continue
		}
		switch ev.Type {
		case chat.EventStreamDelta:
			fmt.Print(ev.Delta)
		case chat.EventStreamDone:
			fmt.Println()
			return
		case chat.EventStreamError:
			fmt.Println(chat.ErrorReply)
			return
		}
	}
}

// drain clears any buffered events from a previous conversation.
func drain(events <-chan chat.Event) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}
