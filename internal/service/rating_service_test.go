package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	apperrors "github.com/CS196Illinois/FA25-Group8/internal/errors"
	"github.com/CS196Illinois/FA25-Group8/internal/model"
	"github.com/CS196Illinois/FA25-Group8/internal/store"
	"github.com/CS196Illinois/FA25-Group8/internal/txn"
	"github.com/CS196Illinois/FA25-Group8/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2025, 10, 20, 15, 4, 5, 0, time.UTC)

func newRatingService(t *testing.T, maxRetries int) *RatingService {
	t.Helper()
	docs := store.NewMemoryDocumentStore(zap.NewNop())
	cfg := txn.Config{MaxRetries: maxRetries, Backoff: txn.DefaultBackoff}
	return NewRatingService(docs, cfg, validation.NewValidator(), nil, zap.NewNop()).
		WithClock(func() time.Time { return fixedNow })
}

func strPtr(s string) *string { return &s }

func TestRating_UpsertScenario(t *testing.T) {
	ctx := context.Background()
	svc := newRatingService(t, 5)

	doc, err := svc.UpsertRating(ctx, "L", "A", 4, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version, "first rating creates the aggregate")

	doc, err = svc.UpsertRating(ctx, "L", "B", 5, strPtr("bright"))
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Value.TotalCount)
	assert.Equal(t, 4.5, doc.Value.AverageScore)

	doc, err = svc.UpsertRating(ctx, "L", "A", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Value.TotalCount)
	assert.Equal(t, 3.5, doc.Value.AverageScore)

	got, err := svc.GetLocation(ctx, "L")
	require.NoError(t, err)
	assert.Equal(t, "L", got.Value.LocationID)
	assert.Equal(t, "bright", *got.Value.Ratings["B"].ReviewText)
	assert.Equal(t, fixedNow, got.Value.Ratings["A"].SubmittedAt)
}

func TestRating_InvalidScoreWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newRatingService(t, 5)

	for _, score := range []int{0, 6} {
		_, err := svc.UpsertRating(ctx, "L", "A", score, nil)
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidScore))
	}

	_, err := svc.GetLocation(ctx, "L")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound), "a rejected first rating creates nothing")
}

func TestRating_ReviewTooLong(t *testing.T) {
	ctx := context.Background()
	svc := newRatingService(t, 5)

	long := make([]rune, validation.MaxReviewTextSize+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := svc.UpsertRating(ctx, "L", "A", 3, strPtr(string(long)))
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
}

func TestRating_ConcurrentUpsertsKeepAggregateConsistent(t *testing.T) {
	ctx := context.Background()
	svc := newRatingService(t, 200)

	const users = 30
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		user := fmt.Sprintf("u%02d", i)
		for round := 0; round < 2; round++ {
			score := 1 + rand.IntN(5)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.UpsertRating(ctx, "L", user, score, nil); err != nil {
					assert.True(t, apperrors.Is(err, apperrors.ErrMaxRetriesExceeded), "unexpected error: %v", err)
				}
			}()
		}
	}
	wg.Wait()

	doc, err := svc.GetLocation(ctx, "L")
	require.NoError(t, err)

	sum := 0
	for _, r := range doc.Value.Ratings {
		sum += r.Score
	}
	assert.Equal(t, len(doc.Value.Ratings), doc.Value.TotalCount)
	assert.InDelta(t, float64(sum)/float64(len(doc.Value.Ratings)), doc.Value.AverageScore, 0.01)
	assert.LessOrEqual(t, doc.Value.TotalCount, users)
}

func TestRating_ConcurrentDistinctUsersAllCounted(t *testing.T) {
	ctx := context.Background()
	svc := newRatingService(t, 500)

	const users = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	committed := map[string]int{}
	for i := 0; i < users; i++ {
		user, score := fmt.Sprintf("u%02d", i), 1+i%5
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.UpsertRating(ctx, "L", user, score, nil); err == nil {
				mu.Lock()
				committed[user] = score
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	doc, err := svc.GetLocation(ctx, "L")
	require.NoError(t, err)

	sum := 0
	for _, s := range committed {
		sum += s
	}
	assert.Equal(t, len(committed), doc.Value.TotalCount)
	assert.InDelta(t, float64(sum)/float64(len(committed)), doc.Value.AverageScore, 0.01)
}

func TestRating_GetTopRatedBreaksTiesByCount(t *testing.T) {
	ctx := context.Background()
	svc := newRatingService(t, 5)

	rate := func(loc string, scores ...int) {
		for i, s := range scores {
			_, err := svc.UpsertRating(ctx, loc, fmt.Sprintf("u%d", i), s, nil)
			require.NoError(t, err)
		}
	}
	rate("L1", 4, 5)
	rate("L2", 4, 5, 4, 5)
	rate("L3", 3)

	top, err := svc.GetTopRated(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "L2", top[0].LocationID)

	top, err = svc.GetTopRated(ctx, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(top))
	for _, agg := range top {
		ids = append(ids, agg.LocationID)
	}
	assert.Equal(t, []string{"L2", "L1", "L3"}, ids)

	// a re-rating moves L3 to the top
	rate("L3", 5)
	top, err = svc.GetTopRated(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "L3", top[0].LocationID)

	_, err = svc.GetTopRated(ctx, 0)
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
}

func TestRating_CreateLocation(t *testing.T) {
	ctx := context.Background()
	svc := newRatingService(t, 5)

	doc, err := svc.CreateLocation(ctx, "L")
	require.NoError(t, err)
	assert.Zero(t, doc.Value.TotalCount)

	_, err = svc.CreateLocation(ctx, "L")
	assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyExists))

	top, err := svc.GetTopRated(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 0.0, top[0].AverageScore)
}

func TestSortTopRated(t *testing.T) {
	aggs := []model.LocationRatingAggregate{
		{LocationID: "c", AverageScore: 4.5, TotalCount: 2},
		{LocationID: "b", AverageScore: 4.5, TotalCount: 2},
		{LocationID: "a", AverageScore: 3.0, TotalCount: 50},
		{LocationID: "d", AverageScore: 4.5, TotalCount: 5},
	}
	SortTopRated(aggs)

	got := make([]string, 0, len(aggs))
	for _, a := range aggs {
		got = append(got, a.LocationID)
	}
	assert.Equal(t, []string{"d", "b", "c", "a"}, got)
}

func TestUpsertRating_CopiesReviewText(t *testing.T) {
	text := "quiet"
	next, err := upsertRating("u1", 4, &text, func() time.Time { return fixedNow })(model.NewLocationRatingAggregate("L"))
	require.NoError(t, err)

	text = "loud"
	assert.Equal(t, "quiet", *next.Ratings["u1"].ReviewText)
}
