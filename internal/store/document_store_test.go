package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testDocumentStore exercises the DocumentStore contract. Each subtest uses
// a fresh collection so shared backends need no cleanup.
func testDocumentStore(t *testing.T, s DocumentStore) {
	ctx := context.Background()
	newCollection := func() string { return "test-" + uuid.NewString() }

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, newCollection(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create then read", func(t *testing.T) {
		coll := newCollection()
		version, err := s.ConditionalPut(ctx, coll, "d1", 0, []byte(`{"a":1}`), 2.5)
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)

		doc, err := s.Get(ctx, coll, "d1")
		require.NoError(t, err)
		assert.Equal(t, "d1", doc.ID)
		assert.Equal(t, coll, doc.Collection)
		assert.Equal(t, int64(1), doc.Version)
		assert.Equal(t, []byte(`{"a":1}`), doc.Value)
		assert.Equal(t, 2.5, doc.Rank)
	})

	t.Run("create existing conflicts", func(t *testing.T) {
		coll := newCollection()
		_, err := s.ConditionalPut(ctx, coll, "d1", 0, []byte(`1`), 0)
		require.NoError(t, err)

		_, err = s.ConditionalPut(ctx, coll, "d1", 0, []byte(`2`), 0)
		assert.ErrorIs(t, err, ErrConflict)

		doc, err := s.Get(ctx, coll, "d1")
		require.NoError(t, err)
		assert.Equal(t, []byte(`1`), doc.Value)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		coll := newCollection()
		_, err := s.ConditionalPut(ctx, coll, "d1", 0, []byte(`1`), 0)
		require.NoError(t, err)
		v2, err := s.ConditionalPut(ctx, coll, "d1", 1, []byte(`2`), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v2)

		_, err = s.ConditionalPut(ctx, coll, "d1", 1, []byte(`3`), 0)
		assert.ErrorIs(t, err, ErrConflict)

		doc, err := s.Get(ctx, coll, "d1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), doc.Version)
		assert.Equal(t, []byte(`2`), doc.Value)
	})

	t.Run("update missing is not found", func(t *testing.T) {
		_, err := s.ConditionalPut(ctx, newCollection(), "ghost", 3, []byte(`1`), 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("top ranked order", func(t *testing.T) {
		coll := newCollection()
		ranks := map[string]float64{"b": 5, "a": 5, "c": 9, "d": 1, "e": 0}
		for id, rank := range ranks {
			_, err := s.ConditionalPut(ctx, coll, id, 0, []byte(`{}`), rank)
			require.NoError(t, err)
		}

		// an update must move the document in the index
		_, err := s.ConditionalPut(ctx, coll, "d", 1, []byte(`{}`), 7)
		require.NoError(t, err)

		docs, err := s.TopRanked(ctx, coll, 4)
		require.NoError(t, err)
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		assert.Equal(t, []string{"c", "d", "a", "b"}, ids)

		docs, err = s.TopRanked(ctx, newCollection(), 10)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("concurrent writers exactly one wins per version", func(t *testing.T) {
		coll := newCollection()
		_, err := s.ConditionalPut(ctx, coll, "d1", 0, []byte(`0`), 0)
		require.NoError(t, err)

		const writers = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.ConditionalPut(ctx, coll, "d1", 1, []byte(fmt.Sprint(i)), 0)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, ErrConflict)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		doc, err := s.Get(ctx, coll, "d1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), doc.Version)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestMemoryDocumentStore(t *testing.T) {
	s := NewMemoryDocumentStore(zap.NewNop())
	defer s.Close()
	testDocumentStore(t, s)
}

func TestMemoryDocumentStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDocumentStore(zap.NewNop())

	value := []byte(`abc`)
	_, err := s.ConditionalPut(ctx, "c", "d1", 0, value, 0)
	require.NoError(t, err)
	value[0] = 'X'

	doc, err := s.Get(ctx, "c", "d1")
	require.NoError(t, err)
	doc.Value[1] = 'Y'

	again, err := s.Get(ctx, "c", "d1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`abc`), again.Value)
	assert.Equal(t, 1, s.Size("c"))
}

func TestPostgresDocumentStore(t *testing.T) {
	dsn := os.Getenv("STUDYSESSION_TEST_POSTGRES_DSN")
	if dsn == "" || testing.Short() {
		t.Skip("STUDYSESSION_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := NewPostgresDocumentStoreFromDSN(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureSchema(ctx))

	testDocumentStore(t, s)
}

func TestRedisDocumentStore(t *testing.T) {
	client := newTestRedisClient(t)
	s := NewRedisDocumentStore(client, "test-"+uuid.NewString(), zap.NewNop())
	defer s.Close()

	testDocumentStore(t, s)
}
