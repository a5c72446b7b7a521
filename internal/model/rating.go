package model

import (
	"math"
	"time"
)

// LocationCollection is the document collection holding per-location rating aggregates
const LocationCollection = "locations"

const (
	// MinScore is the lowest accepted rating score
	MinScore = 1
	// MaxScore is the highest accepted rating score
	MaxScore = 5
)

// Rating is one user's rating of a location
type Rating struct {
	Score       int       `json:"score"`
	ReviewText  *string   `json:"review_text,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// LocationRatingAggregate holds every user's latest rating for a location
// together with the derived count and mean.
type LocationRatingAggregate struct {
	LocationID   string            `json:"location_id"`
	Ratings      map[string]Rating `json:"ratings"`
	AverageScore float64           `json:"average_score"`
	TotalCount   int               `json:"total_count"`
}

// NewLocationRatingAggregate creates an aggregate with no ratings
func NewLocationRatingAggregate(locationID string) LocationRatingAggregate {
	return LocationRatingAggregate{
		LocationID: locationID,
		Ratings:    map[string]Rating{},
	}
}

// WithRating returns a copy where userID's entry is replaced by r and the
// derived fields are recomputed.
func (a LocationRatingAggregate) WithRating(userID string, r Rating) LocationRatingAggregate {
	out := LocationRatingAggregate{
		LocationID: a.LocationID,
		Ratings:    make(map[string]Rating, len(a.Ratings)+1),
	}
	for k, v := range a.Ratings {
		out.Ratings[k] = v
	}
	out.Ratings[userID] = r
	out.Recompute()
	return out
}

// Recompute derives TotalCount and AverageScore from Ratings
func (a *LocationRatingAggregate) Recompute() {
	if a.Ratings == nil {
		a.Ratings = map[string]Rating{}
	}
	a.TotalCount = len(a.Ratings)
	if a.TotalCount == 0 {
		a.AverageScore = 0
		return
	}
	sum := 0
	for _, r := range a.Ratings {
		sum += r.Score
	}
	a.AverageScore = RoundScore(float64(sum) / float64(a.TotalCount))
}

// Rank packs average (in hundredths) and count into one orderable number:
// a higher average always wins, ties fall to the larger count.
func (a LocationRatingAggregate) Rank() float64 {
	cents := math.Round(a.AverageScore * 100)
	count := float64(a.TotalCount)
	if count > rankCountSpan-1 {
		count = rankCountSpan - 1
	}
	return cents*rankCountSpan + count
}

// rankCountSpan keeps Rank exact in a float64 for averages up to 5.00.
const rankCountSpan = 1e9

// RoundScore rounds to two decimal places
func RoundScore(v float64) float64 {
	return math.Round(v*100) / 100
}
