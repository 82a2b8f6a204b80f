// Package vectorindex implements VectorIndexer (C6): write-through
// indexing of a completed turn into an external store, built on a
// per-role AddMessage persistence call and generalized to concurrent
// dual-role writes via errgroup.
package vectorindex

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lumenchat/chatcore/internal/chatmodel"
	"github.com/lumenchat/chatcore/internal/logger"
)

const titleMaxChars = 50

// Record is one indexed message, produced once per role per turn.
type Record struct {
	ID        string
	Role      string
	Text      string
	Timestamp time.Time
}

// AddMessage persists one indexed record for a chat. Implementations back
// this with whatever external store holds searchable message history; the
// indexer waits for both writes of a turn and logs rather than propagates
// failures.
type AddMessage func(ctx context.Context, userID, chatID string, record Record, chatTitle string) error

// Indexer implements VectorIndexer.
type Indexer struct {
	addMessage AddMessage
	log        *logger.Logger
}

// New constructs an Indexer bound to the injected AddMessage collaborator.
func New(addMessage AddMessage, log *logger.Logger) *Indexer {
	return &Indexer{addMessage: addMessage, log: log.WithComponent("vectorindex")}
}

// IndexTurn writes the user and assistant halves of a completed turn
// concurrently. Errors from either write are logged and never surfaced:
// indexing failures must never fail the pipeline that produced the turn.
func (idx *Indexer) IndexTurn(ctx context.Context, userID, chatID, userText, assistantText string, historySnapshot []chatmodel.StoredTurn) {
	now := time.Now()
	title := deriveChatTitle(historySnapshot)

	userRecord := Record{ID: uuid.New().String(), Role: "user", Text: userText, Timestamp: now}
	assistantRecord := Record{ID: uuid.New().String(), Role: "assistant", Text: assistantText, Timestamp: now}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return idx.addMessage(gctx, userID, chatID, userRecord, title)
	})
	g.Go(func() error {
		return idx.addMessage(gctx, userID, chatID, assistantRecord, title)
	})

	if err := g.Wait(); err != nil {
		idx.log.Error("failed to index turn", "error", err, "userId", userID, "chatId", chatID)
	}
}

// deriveChatTitle takes the first 50 characters of the first user turn in
// historySnapshot, falling back to a generic title when none is found.
func deriveChatTitle(history []chatmodel.StoredTurn) string {
	for _, turn := range history {
		if turn.Role != "user" {
			continue
		}
		text, ok := turn.Content.(string)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		text = strings.TrimSpace(text)
		if runes := []rune(text); len(runes) > titleMaxChars {
			return string(runes[:titleMaxChars])
		}
		return text
	}
	return "New chat"
}
