// Package store ships the two backing-store adapters chatcore's external
// interfaces name: a SQL-backed ChatStore and an in-memory VectorStore
// reference implementation, neither of which chatcore exercises beyond
// their Close/addMessage contracts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const (
	maxOpenConns    = 20
	maxIdleConns    = 5
	connMaxIdleTime = 5 * time.Minute
	connMaxLifetime = 30 * time.Minute
)

// ChatStore wraps the chat-history database connection. Persistence
// semantics of chat history are out of scope; only the connection
// lifecycle is exercised, by ShutdownController (C8).
type ChatStore struct {
	DB *sql.DB
}

// NewChatStore opens and pings the chat-history database.
func NewChatStore(databaseURL string) (*ChatStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat store: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping chat store: %w", err)
	}

	return &ChatStore{DB: db}, nil
}

// Close implements shutdown.Store's Close contract.
func (s *ChatStore) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.DB.Close() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
