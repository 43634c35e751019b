package store

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/parley/internal/conversation"
)

var (
	// ErrNotFound is returned when a thread does not exist for the caller.
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned when a save would drop messages that are
	// already checkpointed.
	ErrStaleState = errors.New("state is older than the stored checkpoint")
)

// Thread is one persisted conversation owned by a user.
type Thread struct {
	ID           string
	UserID       string
	Summary      string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Checkpointer persists conversation state keyed by (thread id, user id).
type Checkpointer interface {
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, userID, threadID string) (*Thread, error)
	ListThreads(ctx context.Context, userID string) ([]*Thread, error)

	// SaveState appends any messages not yet stored and replaces the summary
	// in a single transaction.
	SaveState(ctx context.Context, userID, threadID string, state *conversation.State) error
	LoadState(ctx context.Context, userID, threadID string) (*conversation.State, error)
	LoadMessages(ctx context.Context, userID, threadID string) ([]conversation.Message, error)
	LoadSummary(ctx context.Context, userID, threadID string) (string, error)
}

// Storage defines the interface for persistence
type Storage interface {
	Checkpointer

	// Configuration Management
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)

	Close() error
}
