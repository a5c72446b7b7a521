package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CS196Illinois/FA25-Group8/internal/store"
	"go.uber.org/zap"
)

// DefaultPendingTTL bounds how long a reservation survives a process that
// died before completing it.
const DefaultPendingTTL = 30 * time.Second

// IdempotencyService records the outcome of write requests under a
// client-supplied key, so a client retrying after a lost response gets the
// original answer instead of, say, AlreadyJoined.
//
// A key is first reserved with a pending marker, then overwritten with the
// final response, so two concurrent requests with one key never both run.
type IdempotencyService struct {
	idempotencyStore store.IdempotencyStore
	ttl              time.Duration
	pendingTTL       time.Duration
	logger           *zap.Logger
}

// IdempotencyResponse represents a recorded response, or a reservation while
// Pending is set.
type IdempotencyResponse struct {
	Operation  string          `json:"operation"`
	Pending    bool            `json:"pending,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewIdempotencyService creates a new idempotency service
func NewIdempotencyService(
	idempotencyStore store.IdempotencyStore,
	ttl time.Duration,
	logger *zap.Logger,
) *IdempotencyService {
	pendingTTL := DefaultPendingTTL
	if ttl < pendingTTL {
		pendingTTL = ttl
	}
	return &IdempotencyService{
		idempotencyStore: idempotencyStore,
		ttl:              ttl,
		pendingTTL:       pendingTTL,
		logger:           logger,
	}
}

// Get retrieves a recorded response; nil without error when none exists
func (s *IdempotencyService) Get(ctx context.Context, scope, idempotencyKey string) (*IdempotencyResponse, error) {
	storeKey := s.buildStoreKey(scope, idempotencyKey)

	data, err := s.idempotencyStore.Get(ctx, storeKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get idempotency response: %w", err)
	}

	var response IdempotencyResponse
	if err := json.Unmarshal(data, &response); err != nil {
		s.logger.Error("Invalid idempotency response",
			zap.String("scope", scope),
			zap.Error(err))
		return nil, fmt.Errorf("invalid idempotency response: %w", err)
	}

	s.logger.Debug("Idempotency response found",
		zap.String("scope", scope),
		zap.String("idempotency_key", idempotencyKey))

	return &response, nil
}

// Reserve claims the key for the caller with a pending marker. It reports
// false when the key is already reserved or completed.
func (s *IdempotencyService) Reserve(ctx context.Context, scope, idempotencyKey, operation string) (bool, error) {
	data, err := json.Marshal(&IdempotencyResponse{
		Operation: operation,
		Pending:   true,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal idempotency reservation: %w", err)
	}

	reserved, err := s.idempotencyStore.SetNX(ctx, s.buildStoreKey(scope, idempotencyKey), data, s.pendingTTL)
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return reserved, nil
}

// Complete replaces the caller's reservation with the final response.
func (s *IdempotencyService) Complete(
	ctx context.Context,
	scope, idempotencyKey string,
	response *IdempotencyResponse,
) error {
	storeKey := s.buildStoreKey(scope, idempotencyKey)

	response.Pending = false
	response.Timestamp = time.Now().UTC()
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency response: %w", err)
	}

	if err := s.idempotencyStore.Set(ctx, storeKey, data, s.ttl); err != nil {
		return fmt.Errorf("failed to store idempotency response: %w", err)
	}

	s.logger.Debug("Stored idempotency response",
		zap.String("scope", scope),
		zap.String("idempotency_key", idempotencyKey),
		zap.Duration("ttl", s.ttl))

	return nil
}

// Delete drops a reservation or recorded response, so the next request with
// the key runs again.
func (s *IdempotencyService) Delete(ctx context.Context, scope, idempotencyKey string) error {
	if err := s.idempotencyStore.Delete(ctx, s.buildStoreKey(scope, idempotencyKey)); err != nil {
		return fmt.Errorf("failed to delete idempotency key: %w", err)
	}
	return nil
}

// buildStoreKey builds the store key for idempotency
func (s *IdempotencyService) buildStoreKey(scope, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, idempotencyKey)
}

// ValidateIdempotencyKey checks that a key is 1-128 printable ASCII characters
func (s *IdempotencyService) ValidateIdempotencyKey(idempotencyKey string) bool {
	if len(idempotencyKey) == 0 || len(idempotencyKey) > 128 {
		return false
	}
	for _, c := range idempotencyKey {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
