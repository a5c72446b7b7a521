package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryIdempotencyStore implements IdempotencyStore using an in-memory map.
// At maxSize, expired keys are dropped first, then the oldest live key.
type MemoryIdempotencyStore struct {
	data    map[string]*idempotencyItem
	mu      sync.RWMutex
	maxSize int
	seq     uint64
	logger  *zap.Logger
	stopCh  chan struct{}
	once    sync.Once
}

type idempotencyItem struct {
	value     []byte
	seq       uint64 // insertion order, for eviction
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates a new in-memory idempotency store
func NewMemoryIdempotencyStore(maxSize int, logger *zap.Logger) *MemoryIdempotencyStore {
	s := &MemoryIdempotencyStore{
		data:    make(map[string]*idempotencyItem),
		maxSize: maxSize,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go s.cleanup()

	return s
}

// Get retrieves a recorded response
func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.data[key]
	if !exists || time.Now().After(item.expiresAt) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

// SetNX records a response unless a live one is already recorded under key
func (s *MemoryIdempotencyStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if item, exists := s.data[key]; exists && now.Before(item.expiresAt) {
		return false, nil
	}

	s.evictLocked(now)
	s.seq++
	s.data[key] = &idempotencyItem{
		value:     append([]byte(nil), value...),
		seq:       s.seq,
		expiresAt: now.Add(ttl),
	}
	return true, nil
}

// Set records value under key, replacing whatever is there. A live key keeps
// its original age for eviction.
func (s *MemoryIdempotencyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	item, exists := s.data[key]
	if !exists || !now.Before(item.expiresAt) {
		s.evictLocked(now)
		s.seq++
		item = &idempotencyItem{seq: s.seq}
		s.data[key] = item
	}
	item.value = append([]byte(nil), value...)
	item.expiresAt = now.Add(ttl)
	return nil
}

// evictLocked makes room for one more key. Caller holds s.mu.
func (s *MemoryIdempotencyStore) evictLocked(now time.Time) {
	if s.maxSize <= 0 || len(s.data) < s.maxSize {
		return
	}
	for k, v := range s.data {
		if now.After(v.expiresAt) {
			delete(s.data, k)
		}
	}
	for len(s.data) >= s.maxSize {
		var (
			oldestKey string
			oldestSeq uint64
			found     bool
		)
		for k, v := range s.data {
			if !found || v.seq < oldestSeq {
				oldestKey, oldestSeq, found = k, v.seq, true
			}
		}
		delete(s.data, oldestKey)
		s.logger.Debug("evicted idempotency key at capacity", zap.String("key", oldestKey))
	}
}

// Delete removes an idempotency key
func (s *MemoryIdempotencyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Ping always succeeds
func (s *MemoryIdempotencyStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup goroutine
func (s *MemoryIdempotencyStore) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	return nil
}

// cleanup periodically removes expired entries
func (s *MemoryIdempotencyStore) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for key, item := range s.data {
				if now.After(item.expiresAt) {
					delete(s.data, key)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Size returns the number of recorded keys
func (s *MemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
