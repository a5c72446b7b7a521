// Package main runs a contention simulation: many concurrent joins against a
// capacity-bounded session and many concurrent ratings of one location, all
// through the optimistic transaction executor, then checks the results.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	apperrors "github.com/CS196Illinois/FA25-Group8/internal/errors"
	"github.com/CS196Illinois/FA25-Group8/internal/logging"
	"github.com/CS196Illinois/FA25-Group8/internal/model"
	"github.com/CS196Illinois/FA25-Group8/internal/service"
	"github.com/CS196Illinois/FA25-Group8/internal/store"
	"github.com/CS196Illinois/FA25-Group8/internal/txn"
	"github.com/CS196Illinois/FA25-Group8/internal/util/workerpool"
	"github.com/CS196Illinois/FA25-Group8/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type options struct {
	joiners    int
	capacity   int
	raters     int
	workers    int
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
	logLevel   string
}

func main() {
	var opts options
	flag.IntVar(&opts.joiners, "joiners", 200, "users racing to join the session")
	flag.IntVar(&opts.capacity, "capacity", 25, "session capacity")
	flag.IntVar(&opts.raters, "raters", 200, "users racing to rate the location")
	flag.IntVar(&opts.workers, "workers", 32, "concurrent workers")
	flag.IntVar(&opts.maxRetries, "max-retries", 50, "optimistic retries per transaction")
	flag.DurationVar(&opts.backoff, "backoff", time.Millisecond, "maximum jitter between attempts")
	flag.DurationVar(&opts.timeout, "timeout", time.Minute, "overall simulation timeout")
	flag.StringVar(&opts.logLevel, "log-level", "info", "log level")
	flag.Parse()

	logger, err := logging.New(opts.logLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(context.Background(), opts, logger); err != nil {
		logger.Error("simulation failed", zap.Error(err))
		os.Exit(1)
	}
}

// tally counts task outcomes by error code
type tally struct {
	mu     sync.Mutex
	counts map[string]int
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (t *tally) record(r workerpool.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[apperrors.GetCode(r.Err).String()]++
}

func (t *tally) get(code apperrors.ErrorCode) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[code.String()]
}

func (t *tally) fields() []zap.Field {
	t.mu.Lock()
	defer t.mu.Unlock()
	fields := make([]zap.Field, 0, len(t.counts))
	for code, n := range t.counts {
		fields = append(fields, zap.Int(code, n))
	}
	return fields
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	docs := store.NewMemoryDocumentStore(logger)
	txnCfg := txn.Config{MaxRetries: opts.maxRetries, Backoff: opts.backoff}
	validator := validation.NewValidator()
	// Per-transaction logging would drown the summary.
	quiet := logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel))
	attendance := service.NewAttendanceService(docs, txnCfg, validator, nil, quiet)
	ratings := service.NewRatingService(docs, txnCfg, validator, nil, quiet)

	// The two simulations touch different collections and run side by side.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return simulateJoins(gctx, opts, attendance, logger)
	})
	g.Go(func() error {
		return simulateRatings(gctx, opts, ratings, logger)
	})
	return g.Wait()
}

func simulateJoins(ctx context.Context, opts options, attendance *service.AttendanceService, logger *zap.Logger) error {
	const sessionID = "contended-session"
	capacity := opts.capacity
	if _, err := attendance.CreateSession(ctx, sessionID, &capacity); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	results := newTally()
	pool := workerpool.New(ctx, workerpool.Config{
		Name:       "joins",
		MaxWorkers: opts.workers,
		QueueSize:  opts.workers * 2,
		Logger:     logger,
		OnResult:   results.record,
	})

	start := time.Now()
	for i := 0; i < opts.joiners; i++ {
		userID := fmt.Sprintf("user-%04d", i)
		err := pool.Submit(ctx, workerpool.Task{
			ID: "join-" + userID,
			Fn: func(ctx context.Context) error {
				_, err := attendance.Join(ctx, sessionID, userID)
				return err
			},
		})
		if err != nil {
			return fmt.Errorf("submit join: %w", err)
		}
	}
	if err := pool.Wait(opts.timeout); err != nil {
		return err
	}

	final, err := attendance.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}

	joined := results.get(apperrors.ErrCodeOK)
	logger.Info("join simulation finished",
		append(results.fields(),
			zap.Int("attendees", len(final.Value.Attendees)),
			zap.Int("capacity", opts.capacity),
			zap.Bool("is_full", final.Value.IsFull),
			zap.Int64("version", final.Version),
			zap.Duration("elapsed", time.Since(start)))...)

	if len(final.Value.Attendees) > opts.capacity {
		return fmt.Errorf("capacity exceeded: %d attendees for capacity %d", len(final.Value.Attendees), opts.capacity)
	}
	if len(final.Value.Attendees) != joined {
		return fmt.Errorf("lost update: %d successful joins but %d attendees", joined, len(final.Value.Attendees))
	}
	if final.Value.IsFull != final.Value.ComputeIsFull() {
		return fmt.Errorf("isFull flag out of sync with attendee count")
	}
	return nil
}

func simulateRatings(ctx context.Context, opts options, ratings *service.RatingService, logger *zap.Logger) error {
	const locationID = "contended-location"

	var (
		mu     sync.Mutex
		scores = make(map[string]int, opts.raters)
	)
	results := newTally()
	pool := workerpool.New(ctx, workerpool.Config{
		Name:       "ratings",
		MaxWorkers: opts.workers,
		QueueSize:  opts.workers * 2,
		Logger:     logger,
		OnResult:   results.record,
	})

	start := time.Now()
	for i := 0; i < opts.raters; i++ {
		userID := fmt.Sprintf("rater-%04d", i)
		score := model.MinScore + rand.IntN(model.MaxScore-model.MinScore+1)
		err := pool.Submit(ctx, workerpool.Task{
			ID: "rate-" + userID,
			Fn: func(ctx context.Context) error {
				if _, err := ratings.UpsertRating(ctx, locationID, userID, score, nil); err != nil {
					return err
				}
				mu.Lock()
				scores[userID] = score
				mu.Unlock()
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("submit rating: %w", err)
		}
	}
	if err := pool.Wait(opts.timeout); err != nil {
		return err
	}

	final, err := ratings.GetLocation(ctx, locationID)
	if err != nil {
		return fmt.Errorf("read location: %w", err)
	}

	sum := 0
	for _, s := range scores {
		sum += s
	}
	want := 0.0
	if len(scores) > 0 {
		want = model.RoundScore(float64(sum) / float64(len(scores)))
	}

	logger.Info("rating simulation finished",
		append(results.fields(),
			zap.Int("total_count", final.Value.TotalCount),
			zap.Float64("average_score", final.Value.AverageScore),
			zap.Float64("expected_average", want),
			zap.Int64("version", final.Version),
			zap.Duration("elapsed", time.Since(start)))...)

	if final.Value.TotalCount != len(scores) {
		return fmt.Errorf("lost update: %d committed ratings but total count %d", len(scores), final.Value.TotalCount)
	}
	if final.Value.AverageScore != want {
		return fmt.Errorf("average drifted: got %v, want %v", final.Value.AverageScore, want)
	}
	return nil
}
