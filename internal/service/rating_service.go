package service

import (
	"context"
	"sort"
	"time"

	apperrors "github.com/CS196Illinois/FA25-Group8/internal/errors"
	"github.com/CS196Illinois/FA25-Group8/internal/metrics"
	"github.com/CS196Illinois/FA25-Group8/internal/model"
	"github.com/CS196Illinois/FA25-Group8/internal/store"
	"github.com/CS196Illinois/FA25-Group8/internal/txn"
	"github.com/CS196Illinois/FA25-Group8/internal/validation"
	"go.uber.org/zap"
)

// RatingService maintains per-location rating aggregates. Each user owns
// one entry per location; count and average are recomputed from the full
// rating set on every write.
type RatingService struct {
	executor  *txn.Executor[model.LocationRatingAggregate]
	validator *validation.Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewRatingService creates a new rating service
func NewRatingService(
	documentStore store.DocumentStore,
	txnConfig txn.Config,
	validator *validation.Validator,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RatingService {
	coll := txn.NewCollection(documentStore, model.LocationCollection, model.LocationRatingAggregate.Rank)
	return &RatingService{
		executor:  txn.NewExecutor(coll, txnConfig, m, logger),
		validator: validator,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for submittedAt
func (s *RatingService) WithClock(now func() time.Time) *RatingService {
	s.now = now
	return s
}

// CreateLocation creates an empty aggregate for a location
func (s *RatingService) CreateLocation(ctx context.Context, locationID string) (model.VersionedDocument[model.LocationRatingAggregate], error) {
	if err := s.validator.ValidateID("location_id", locationID); err != nil {
		return model.VersionedDocument[model.LocationRatingAggregate]{}, err
	}
	return s.executor.Collection().Create(ctx, locationID, model.NewLocationRatingAggregate(locationID))
}

// GetLocation reads a location's aggregate
func (s *RatingService) GetLocation(ctx context.Context, locationID string) (model.VersionedDocument[model.LocationRatingAggregate], error) {
	if err := s.validator.ValidateID("location_id", locationID); err != nil {
		return model.VersionedDocument[model.LocationRatingAggregate]{}, err
	}
	return s.executor.Collection().Get(ctx, locationID)
}

// UpsertRating inserts or replaces userID's rating of locationID. The first
// rating of a location creates its aggregate.
func (s *RatingService) UpsertRating(
	ctx context.Context,
	locationID, userID string,
	score int,
	reviewText *string,
) (model.VersionedDocument[model.LocationRatingAggregate], error) {
	if err := s.validator.ValidateIDs("location_id", locationID, "user_id", userID); err != nil {
		return model.VersionedDocument[model.LocationRatingAggregate]{}, err
	}
	if err := s.validator.ValidateReviewText(reviewText); err != nil {
		return model.VersionedDocument[model.LocationRatingAggregate]{}, err
	}

	doc, err := s.executor.Run(ctx, locationID,
		upsertRating(userID, score, reviewText, s.now),
		txn.WithCreate(func() model.LocationRatingAggregate {
			return model.NewLocationRatingAggregate(locationID)
		}),
	)
	if err != nil {
		if s.metrics != nil && apperrors.IsBusinessRule(err) {
			s.metrics.RecordBusinessRejection("upsert_rating", apperrors.GetCode(err).String())
		}
		return doc, err
	}

	s.logger.Debug("Rating upserted",
		zap.String("location_id", locationID),
		zap.String("user_id", userID),
		zap.Int("score", score),
		zap.Int("total_count", doc.Value.TotalCount),
		zap.Float64("average_score", doc.Value.AverageScore),
		zap.Int64("version", doc.Version))

	return doc, nil
}

// GetTopRated returns up to limit aggregates ordered by average score
// descending, then total count descending, then location id ascending.
func (s *RatingService) GetTopRated(ctx context.Context, limit int) ([]model.LocationRatingAggregate, error) {
	if err := s.validator.ValidateLimit(limit); err != nil {
		return nil, err
	}

	docs, err := s.executor.Collection().TopRanked(ctx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]model.LocationRatingAggregate, 0, len(docs))
	for _, doc := range docs {
		agg := doc.Value
		if agg.LocationID == "" {
			agg.LocationID = doc.ID
		}
		out = append(out, agg)
	}
	SortTopRated(out)
	return out, nil
}

// SortTopRated orders aggregates the way GetTopRated reports them
func SortTopRated(aggs []model.LocationRatingAggregate) {
	sort.SliceStable(aggs, func(i, j int) bool {
		a, b := aggs[i], aggs[j]
		if a.AverageScore != b.AverageScore {
			return a.AverageScore > b.AverageScore
		}
		if a.TotalCount != b.TotalCount {
			return a.TotalCount > b.TotalCount
		}
		return a.LocationID < b.LocationID
	})
}

// upsertRating is the pure upsert mutation; now is read once per attempt
func upsertRating(userID string, score int, reviewText *string, now func() time.Time) txn.Mutation[model.LocationRatingAggregate] {
	return func(current model.LocationRatingAggregate) (model.LocationRatingAggregate, error) {
		if score < model.MinScore || score > model.MaxScore {
			return current, apperrors.InvalidScore(score)
		}

		var text *string
		if reviewText != nil {
			t := *reviewText
			text = &t
		}

		return current.WithRating(userID, model.Rating{
			Score:       score,
			ReviewText:  text,
			SubmittedAt: now(),
		}), nil
	}
}
