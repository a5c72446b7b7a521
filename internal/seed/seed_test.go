package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/CS196Illinois/FA25-Group8/internal/service"
	"github.com/CS196Illinois/FA25-Group8/internal/store"
	"github.com/CS196Illinois/FA25-Group8/internal/txn"
	"github.com/CS196Illinois/FA25-Group8/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const fixtureYAML = `
sessions:
  - id: cs196-review
    capacity: 3
    attendees: [bob, alice]
  - id: open-hours
locations:
  - id: grainger
    ratings:
      - user: alice
        score: 5
        review: quiet on weekends
      - user: bob
        score: 4
  - id: union
`

func newServices() (*service.AttendanceService, *service.RatingService) {
	logger := zap.NewNop()
	docs := store.NewMemoryDocumentStore(logger)
	v := validation.NewValidator()
	return service.NewAttendanceService(docs, txn.DefaultConfig(), v, nil, logger),
		service.NewRatingService(docs, txn.DefaultConfig(), v, nil, logger)
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(fixtureYAML))
	require.NoError(t, err)

	require.Len(t, f.Sessions, 2)
	require.NotNil(t, f.Sessions[0].Capacity)
	assert.Equal(t, 3, *f.Sessions[0].Capacity)
	assert.Nil(t, f.Sessions[1].Capacity)
	require.Len(t, f.Locations, 2)
	require.NotNil(t, f.Locations[0].Ratings[0].Review)
	assert.Equal(t, "quiet on weekends", *f.Locations[0].Ratings[0].Review)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("sessions:\n  - id: a\n    colour: red\n"))
	assert.Error(t, err)

	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, f.Sessions)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	attendance, ratings := newServices()

	f, err := Parse([]byte(fixtureYAML))
	require.NoError(t, err)

	sum, err := Apply(ctx, f, attendance, ratings, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Summary{SessionsCreated: 2, Joins: 2, LocationsCreated: 2, Ratings: 2}, sum)

	session, err := attendance.GetSession(ctx, "cs196-review")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, session.Value.Attendees)

	loc, err := ratings.GetLocation(ctx, "grainger")
	require.NoError(t, err)
	assert.Equal(t, 4.5, loc.Value.AverageScore)

	// re-applying keeps sessions and attendees untouched
	sum, err = Apply(ctx, f, attendance, ratings, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Summary{Ratings: 2}, sum)

	session, err = attendance.GetSession(ctx, "cs196-review")
	require.NoError(t, err)
	assert.Len(t, session.Value.Attendees, 2)
}

func TestApply_RejectsOverCapacity(t *testing.T) {
	attendance, ratings := newServices()
	f, err := Parse([]byte("sessions:\n  - id: tiny\n    capacity: 1\n    attendees: [a, b]\n"))
	require.NoError(t, err)

	_, err = Apply(context.Background(), f, attendance, ratings, zap.NewNop())
	assert.ErrorContains(t, err, "tiny")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureYAML), 0o600))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Sessions, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
