package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/CS196Illinois/FA25-Group8/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// casScript applies a conditional put atomically inside Redis.
// Returns the new version, -1 on version conflict, -2 when the document is missing.
// The rank index stores the negated rank so an ascending ZRANGE yields
// rank descending with ties ordered by id ascending.
var casScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
local expected = tonumber(ARGV[1])
if not current then
	if expected ~= 0 then
		return -2
	end
elseif tonumber(current) ~= expected then
	return -1
end
local nextVersion = expected + 1
redis.call('HSET', KEYS[1], 'version', nextVersion, 'value', ARGV[2], 'rank', ARGV[3], 'updated_at', ARGV[4])
redis.call('ZADD', KEYS[2], -tonumber(ARGV[3]), ARGV[5])
return nextVersion
`)

// RedisDocumentStore implements DocumentStore on Redis hashes with a
// sorted set per collection as the rank index.
type RedisDocumentStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisDocumentStore creates a document store on an existing client
func NewRedisDocumentStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisDocumentStore {
	if prefix == "" {
		prefix = "studysession"
	}
	return &RedisDocumentStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (s *RedisDocumentStore) docKey(collection, id string) string {
	return fmt.Sprintf("%s:doc:%s:%s", s.prefix, collection, id)
}

func (s *RedisDocumentStore) rankKey(collection string) string {
	return fmt.Sprintf("%s:rank:%s", s.prefix, collection)
}

// Get retrieves a document with its version
func (s *RedisDocumentStore) Get(ctx context.Context, collection, id string) (*model.Document, error) {
	fields, err := s.client.HGetAll(ctx, s.docKey(collection, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeRedisDocument(collection, id, fields)
}

// ConditionalPut replaces the document iff the stored version matches
func (s *RedisDocumentStore) ConditionalPut(
	ctx context.Context,
	collection, id string,
	expectedVersion int64,
	value []byte,
	rank float64,
) (int64, error) {
	keys := []string{s.docKey(collection, id), s.rankKey(collection)}
	result, err := casScript.Run(ctx, s.client, keys,
		expectedVersion,
		value,
		strconv.FormatFloat(rank, 'f', -1, 64),
		time.Now().UnixNano(),
		id,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to run conditional put: %w", err)
	}

	switch result {
	case -1:
		return 0, ErrConflict
	case -2:
		return 0, ErrNotFound
	default:
		return result, nil
	}
}

// TopRanked reads ids from the rank index and loads them in one pipeline
func (s *RedisDocumentStore) TopRanked(ctx context.Context, collection string, limit int) ([]*model.Document, error) {
	if limit <= 0 {
		return []*model.Document{}, nil
	}

	ids, err := s.client.ZRange(ctx, s.rankKey(collection), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rank index: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.docKey(collection, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load ranked documents: %w", err)
	}

	docs := make([]*model.Document, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// index entry without a document; skip rather than fail the query
			s.logger.Warn("Rank index references missing document",
				zap.String("collection", collection),
				zap.String("id", ids[i]))
			continue
		}
		doc, err := decodeRedisDocument(collection, ids[i], fields)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func decodeRedisDocument(collection, id string, fields map[string]string) (*model.Document, error) {
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version for %s/%s: %w", collection, id, err)
	}
	rank, err := strconv.ParseFloat(fields["rank"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid rank for %s/%s: %w", collection, id, err)
	}
	updated, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at for %s/%s: %w", collection, id, err)
	}

	return &model.Document{
		Collection: collection,
		ID:         id,
		Version:    version,
		Value:      []byte(fields["value"]),
		Rank:       rank,
		UpdatedAt:  time.Unix(0, updated),
	}, nil
}

// Ping checks the Redis connection
func (s *RedisDocumentStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisDocumentStore) Close() error {
	return s.client.Close()
}
