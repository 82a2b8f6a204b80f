package store

import (
	"context"
	"sync"

	"github.com/lumenchat/chatcore/internal/vectorindex"
)

// indexedRecord is one record written through AddMessage, keyed by the
// chat it belongs to.
type indexedRecord struct {
	userID string
	chatID string
	record vectorindex.Record
}

// InMemoryVectorStore is the reference VectorStore implementation: it
// retains every indexed record and chat title for the process lifetime.
// Indexing/retrieval semantics beyond the write-through contract are out
// of scope; this exists to give VectorIndexer (C6) a concrete, testable
// collaborator.
type InMemoryVectorStore struct {
	mu      sync.Mutex
	records []indexedRecord
	titles  map[string]string // chatID -> most recently derived title
}

// NewInMemoryVectorStore constructs an empty store.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{titles: make(map[string]string)}
}

// AddMessage implements vectorindex.AddMessage.
func (s *InMemoryVectorStore) AddMessage(ctx context.Context, userID, chatID string, record vectorindex.Record, title string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, indexedRecord{userID: userID, chatID: chatID, record: record})
	s.titles[chatID] = title
	return nil
}

// Count returns the number of records written so far, used by tests.
func (s *InMemoryVectorStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close implements shutdown.Store's Close contract; the in-memory store
// holds no external resource, so this only honors ctx cancellation.
func (s *InMemoryVectorStore) Close(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
