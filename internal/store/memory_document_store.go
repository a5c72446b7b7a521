package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CS196Illinois/FA25-Group8/internal/model"
	"go.uber.org/zap"
)

// MemoryDocumentStore implements DocumentStore with an in-process map.
// The mutex only makes the compare-and-swap atomic; it plays the role the
// database's row lock plays in the other backends.
type MemoryDocumentStore struct {
	docs   map[string]map[string]*model.Document
	mu     sync.RWMutex
	now    func() time.Time
	logger *zap.Logger
}

// NewMemoryDocumentStore creates a new in-memory document store
func NewMemoryDocumentStore(logger *zap.Logger) *MemoryDocumentStore {
	return &MemoryDocumentStore{
		docs:   make(map[string]map[string]*model.Document),
		now:    time.Now,
		logger: logger,
	}
}

// Get retrieves a copy of a document
func (s *MemoryDocumentStore) Get(ctx context.Context, collection, id string) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[collection][id]
	if !exists {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

// ConditionalPut performs an atomic compare-and-swap on the document version
func (s *MemoryDocumentStore) ConditionalPut(
	ctx context.Context,
	collection, id string,
	expectedVersion int64,
	value []byte,
	rank float64,
) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]*model.Document)
		s.docs[collection] = coll
	}

	current, exists := coll[id]
	switch {
	case !exists && expectedVersion == 0:
		// create
	case !exists:
		return 0, ErrNotFound
	case current.Version != expectedVersion:
		return 0, ErrConflict
	}

	newVersion := expectedVersion + 1
	coll[id] = &model.Document{
		Collection: collection,
		ID:         id,
		Version:    newVersion,
		Value:      append([]byte(nil), value...),
		Rank:       rank,
		UpdatedAt:  s.now(),
	}

	return newVersion, nil
}

// TopRanked returns documents ordered by rank descending, id ascending
func (s *MemoryDocumentStore) TopRanked(ctx context.Context, collection string, limit int) ([]*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	docs := make([]*model.Document, 0, len(s.docs[collection]))
	for _, doc := range s.docs[collection] {
		docs = append(docs, doc.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Rank != docs[j].Rank {
			return docs[i].Rank > docs[j].Rank
		}
		return docs[i].ID < docs[j].ID
	})

	if limit >= 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Delete removes a document. It bypasses versioning and exists for tests
// that simulate a document vanishing mid-transaction.
func (s *MemoryDocumentStore) Delete(collection, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[collection], id)
}

// Size returns the number of documents in a collection
func (s *MemoryDocumentStore) Size(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[collection])
}

// Ping always succeeds for the in-memory store
func (s *MemoryDocumentStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *MemoryDocumentStore) Close() error {
	return nil
}
