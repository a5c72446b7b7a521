package txn

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	apperrors "github.com/CS196Illinois/FA25-Group8/internal/errors"
	"github.com/CS196Illinois/FA25-Group8/internal/metrics"
	"github.com/CS196Illinois/FA25-Group8/internal/model"
	"github.com/CS196Illinois/FA25-Group8/internal/store"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries bounds attempts per Run when no config is given
	DefaultMaxRetries = 5
	// DefaultBackoff is the upper bound of the jitter slept between attempts
	DefaultBackoff = 5 * time.Millisecond
)

// Outcome labels recorded for each finished Run
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeNotFound  = "not_found"
	OutcomeAborted   = "aborted"
	OutcomeFailed    = "failed"
)

// Config controls the retry loop
type Config struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultConfig returns the recommended retry settings
func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultBackoff,
	}
}

// Mutation computes the next value of a document from the current one.
// It must be pure: it may run several times per Run, once per attempt.
// A returned error is a business-rule rejection and ends the Run.
type Mutation[T any] func(current T) (T, error)

// Option adjusts a single Run
type Option[T any] func(*runOptions[T])

type runOptions[T any] struct {
	seed func() T
}

// WithCreate seeds a missing document with seed() at version 0 so the
// mutation can create it.
func WithCreate[T any](seed func() T) Option[T] {
	return func(o *runOptions[T]) {
		o.seed = seed
	}
}

// Executor runs optimistic transactions against one collection. It keeps
// no state between runs.
type Executor[T any] struct {
	coll    *Collection[T]
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewExecutor creates a new transaction executor
func NewExecutor[T any](coll *Collection[T], cfg Config, m *metrics.Metrics, logger *zap.Logger) *Executor[T] {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor[T]{
		coll:    coll,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Collection returns the collection the executor writes to
func (e *Executor[T]) Collection() *Collection[T] {
	return e.coll
}

// Run reads the document, applies mutate and writes the result back only if
// the document is unchanged. Storage conflicts are retried against fresh
// state up to MaxRetries attempts; business errors from mutate are returned
// unchanged and never retried.
func (e *Executor[T]) Run(ctx context.Context, id string, mutate Mutation[T], opts ...Option[T]) (model.VersionedDocument[T], error) {
	var ro runOptions[T]
	for _, opt := range opts {
		opt(&ro)
	}

	name := e.coll.Name()
	var zero model.VersionedDocument[T]

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := e.wait(ctx, attempt); err != nil {
			e.finish(OutcomeFailed, attempt-1)
			return zero, apperrors.Unavailable("transaction cancelled", err).
				WithDetail("collection", name).
				WithDetail("id", id)
		}

		e.recordAttempt()

		current, err := e.coll.read(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if ro.seed == nil {
				e.finish(OutcomeNotFound, attempt)
				return zero, apperrors.NotFound(name, id)
			}
			current = model.VersionedDocument[T]{ID: id, Version: 0, Value: ro.seed()}
		case err != nil:
			e.finish(OutcomeFailed, attempt)
			return zero, err
		}

		next, err := mutate(current.Value)
		if err != nil {
			e.finish(OutcomeRejected, attempt)
			return zero, err
		}

		version, err := e.coll.put(ctx, id, current.Version, next)
		switch {
		case err == nil:
			e.finish(OutcomeCommitted, attempt)
			return model.VersionedDocument[T]{ID: id, Version: version, Value: next}, nil
		case errors.Is(err, store.ErrConflict):
			if e.metrics != nil {
				e.metrics.RecordTxnConflict(name)
			}
			e.logger.Debug("Conditional put conflicted, retrying",
				zap.String("collection", name),
				zap.String("id", id),
				zap.Int64("expected_version", current.Version),
				zap.Int("attempt", attempt))
		case errors.Is(err, store.ErrNotFound):
			// deleted between read and write
			e.finish(OutcomeNotFound, attempt)
			return zero, apperrors.NotFound(name, id)
		default:
			e.finish(OutcomeFailed, attempt)
			return zero, err
		}
	}

	e.finish(OutcomeAborted, e.cfg.MaxRetries)
	e.logger.Warn("Transaction aborted after max retries",
		zap.String("collection", name),
		zap.String("id", id),
		zap.Int("max_retries", e.cfg.MaxRetries))
	return zero, apperrors.MaxRetriesExceeded(name, id, e.cfg.MaxRetries)
}

// wait checks for cancellation and, after the first attempt, sleeps a
// random jitter up to Backoff.
func (e *Executor[T]) wait(ctx context.Context, attempt int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if attempt == 1 || e.cfg.Backoff <= 0 {
		return nil
	}

	timer := time.NewTimer(rand.N(e.cfg.Backoff) + 1)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor[T]) recordAttempt() {
	if e.metrics != nil {
		e.metrics.RecordTxnAttempt(e.coll.Name())
	}
}

func (e *Executor[T]) finish(outcome string, attempts int) {
	if e.metrics != nil {
		e.metrics.RecordTxnOutcome(e.coll.Name(), outcome, attempts)
	}
}
