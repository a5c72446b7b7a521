// Package txn implements optimistic read-mutate-write transactions over a
// versioned document store.
package txn

import (
	"context"
	"encoding/json"
	"errors"

	apperrors "github.com/CS196Illinois/FA25-Group8/internal/errors"
	"github.com/CS196Illinois/FA25-Group8/internal/model"
	"github.com/CS196Illinois/FA25-Group8/internal/store"
)

// Collection is a typed view of one collection in a DocumentStore.
// Values are stored as JSON; rank derives the numeric field used by TopRanked.
type Collection[T any] struct {
	store store.DocumentStore
	name  string
	rank  func(T) float64
}

// NewCollection creates a typed collection. rank may be nil when the
// collection is never queried by rank.
func NewCollection[T any](documentStore store.DocumentStore, name string, rank func(T) float64) *Collection[T] {
	return &Collection[T]{
		store: documentStore,
		name:  name,
		rank:  rank,
	}
}

// Name returns the collection name
func (c *Collection[T]) Name() string {
	return c.name
}

// Get reads and decodes a document
func (c *Collection[T]) Get(ctx context.Context, id string) (model.VersionedDocument[T], error) {
	doc, err := c.read(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.VersionedDocument[T]{}, apperrors.NotFound(c.name, id)
	}
	return doc, err
}

// Create writes the first version of a document. An existing document is
// reported as AlreadyExists and left untouched.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) (model.VersionedDocument[T], error) {
	version, err := c.put(ctx, id, 0, value)
	if errors.Is(err, store.ErrConflict) {
		return model.VersionedDocument[T]{}, apperrors.AlreadyExists(c.name, id)
	}
	if err != nil {
		return model.VersionedDocument[T]{}, err
	}
	return model.VersionedDocument[T]{ID: id, Version: version, Value: value}, nil
}

// TopRanked returns up to limit decoded documents ordered by rank
func (c *Collection[T]) TopRanked(ctx context.Context, limit int) ([]model.VersionedDocument[T], error) {
	docs, err := c.store.TopRanked(ctx, c.name, limit)
	if err != nil {
		return nil, apperrors.Unavailable("failed to query ranked documents", err)
	}

	out := make([]model.VersionedDocument[T], 0, len(docs))
	for _, doc := range docs {
		decoded, err := c.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

// read returns store.ErrNotFound unwrapped so the executor can seed a value
func (c *Collection[T]) read(ctx context.Context, id string) (model.VersionedDocument[T], error) {
	doc, err := c.store.Get(ctx, c.name, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.VersionedDocument[T]{}, store.ErrNotFound
	}
	if err != nil {
		return model.VersionedDocument[T]{}, apperrors.Unavailable("failed to read document", err)
	}
	return c.decode(doc)
}

// put returns store.ErrConflict and store.ErrNotFound unwrapped
func (c *Collection[T]) put(ctx context.Context, id string, expectedVersion int64, value T) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, apperrors.InternalError("failed to encode document", err)
	}

	var rank float64
	if c.rank != nil {
		rank = c.rank(value)
	}

	version, err := c.store.ConditionalPut(ctx, c.name, id, expectedVersion, data, rank)
	if err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			return 0, err
		}
		return 0, apperrors.Unavailable("failed to write document", err)
	}
	return version, nil
}

func (c *Collection[T]) decode(doc *model.Document) (model.VersionedDocument[T], error) {
	var value T
	if err := json.Unmarshal(doc.Value, &value); err != nil {
		return model.VersionedDocument[T]{}, apperrors.CorruptedData("failed to decode document", err).
			WithDetail("collection", c.name).
			WithDetail("id", doc.ID)
	}
	return model.VersionedDocument[T]{ID: doc.ID, Version: doc.Version, Value: value}, nil
}
