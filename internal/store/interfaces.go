package store

import (
	"context"
	"errors"
	"time"

	"github.com/CS196Illinois/FA25-Group8/internal/model"
)

// ErrNotFound is returned when a document or key is not found
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional put observes a different version
// than the caller expected. Nothing is written.
var ErrConflict = errors.New("version conflict")

// DocumentStore is the versioned document primitive the coordination core is
// built on. Every mutation goes through ConditionalPut.
type DocumentStore interface {
	// Get returns the document and the version it was read at, or ErrNotFound.
	Get(ctx context.Context, collection, id string) (*model.Document, error)

	// ConditionalPut replaces the whole document iff its stored version equals
	// expectedVersion and returns the new version (expectedVersion+1).
	// expectedVersion 0 creates the document and conflicts if it already exists.
	// A missing document with expectedVersion > 0 yields ErrNotFound.
	ConditionalPut(ctx context.Context, collection, id string, expectedVersion int64, value []byte, rank float64) (int64, error)

	// TopRanked returns up to limit documents ordered by rank descending, then id ascending.
	TopRanked(ctx context.Context, collection string, limit int) ([]*model.Document, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// IdempotencyStore interface for idempotency key operations
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Set stores value unconditionally, replacing any existing entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
