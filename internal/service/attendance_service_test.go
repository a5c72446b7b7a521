package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	apperrors "github.com/CS196Illinois/FA25-Group8/internal/errors"
	"github.com/CS196Illinois/FA25-Group8/internal/model"
	"github.com/CS196Illinois/FA25-Group8/internal/store"
	"github.com/CS196Illinois/FA25-Group8/internal/txn"
	"github.com/CS196Illinois/FA25-Group8/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAttendanceService(t *testing.T, maxRetries int) (*AttendanceService, *store.MemoryDocumentStore) {
	t.Helper()
	docs := store.NewMemoryDocumentStore(zap.NewNop())
	cfg := txn.Config{MaxRetries: maxRetries, Backoff: txn.DefaultBackoff}
	return NewAttendanceService(docs, cfg, validation.NewValidator(), nil, zap.NewNop()), docs
}

func intPtr(v int) *int { return &v }

func TestAttendance_CreateSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAttendanceService(t, 5)

	doc, err := svc.CreateSession(ctx, "s1", intPtr(2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
	assert.Empty(t, doc.Value.Attendees)
	assert.False(t, doc.Value.IsFull)

	_, err = svc.CreateSession(ctx, "s1", nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyExists))

	_, err = svc.CreateSession(ctx, "s2", intPtr(0))
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))

	_, err = svc.CreateSession(ctx, "", nil)
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
}

func TestAttendance_ConcurrentJoinsFillSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAttendanceService(t, 10)
	_, err := svc.CreateSession(ctx, "s1", intPtr(2))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []string{"A", "B"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, errs[i] = svc.Join(ctx, "s1", user)
		}(i, user)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	doc, err := svc.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, doc.Value.Attendees)
	assert.True(t, doc.Value.IsFull)

	_, err = svc.Join(ctx, "s1", "C")
	assert.True(t, apperrors.Is(err, apperrors.ErrSessionFull))
}

func TestAttendance_RaceForLastSlot(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAttendanceService(t, 100)

	const capacity = 5
	const users = 40
	_, err := svc.CreateSession(ctx, "s1", intPtr(capacity))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		joined  []string
		full    int
		aborted int
	)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := svc.Join(ctx, "s1", user)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined = append(joined, user)
			case apperrors.Is(err, apperrors.ErrSessionFull):
				full++
			case apperrors.Is(err, apperrors.ErrMaxRetriesExceeded):
				aborted++
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}(fmt.Sprintf("user-%02d", i))
	}
	wg.Wait()

	doc, err := svc.GetSession(ctx, "s1")
	require.NoError(t, err)

	assert.LessOrEqual(t, len(doc.Value.Attendees), capacity)
	assert.ElementsMatch(t, joined, doc.Value.Attendees, "every successful join is recorded")
	assert.Equal(t, users, len(joined)+full+aborted)
	if aborted == 0 {
		assert.Len(t, joined, capacity)
		assert.True(t, doc.Value.IsFull)
	}
}

func TestAttendance_JoinTwiceIsAlreadyJoined(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAttendanceService(t, 5)
	_, err := svc.CreateSession(ctx, "s1", nil)
	require.NoError(t, err)

	first, err := svc.Join(ctx, "s1", "u1")
	require.NoError(t, err)

	_, err = svc.Join(ctx, "s1", "u1")
	assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyJoined))

	doc, err := svc.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, first.Version, doc.Version, "rejected join writes nothing")
	assert.Len(t, doc.Value.Attendees, 1)
}

func TestAttendance_UncappedSessionNeverFull(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAttendanceService(t, 5)
	_, err := svc.CreateSession(ctx, "s1", nil)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		doc, err := svc.Join(ctx, "s1", fmt.Sprintf("u%d", i))
		require.NoError(t, err)
		assert.False(t, doc.Value.IsFull)
	}
}

func TestAttendance_LeaveNonJoinerLeavesDocumentUnchanged(t *testing.T) {
	ctx := context.Background()
	svc, docs := newAttendanceService(t, 5)
	_, err := svc.CreateSession(ctx, "s1", intPtr(3))
	require.NoError(t, err)
	_, err = svc.Join(ctx, "s1", "u1")
	require.NoError(t, err)

	before, err := docs.Get(ctx, model.SessionCollection, "s1")
	require.NoError(t, err)

	_, err = svc.Leave(ctx, "s1", "stranger")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotAJoiner))

	after, err := docs.Get(ctx, model.SessionCollection, "s1")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Value, after.Value)
}

func TestAttendance_LeaveRecomputesIsFullAndAllowsRejoin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAttendanceService(t, 5)
	_, err := svc.CreateSession(ctx, "s1", intPtr(2))
	require.NoError(t, err)
	_, err = svc.Join(ctx, "s1", "a")
	require.NoError(t, err)
	full, err := svc.Join(ctx, "s1", "b")
	require.NoError(t, err)
	require.True(t, full.Value.IsFull)

	left, err := svc.Leave(ctx, "s1", "a")
	require.NoError(t, err)
	assert.False(t, left.Value.IsFull)
	assert.Equal(t, []string{"b"}, left.Value.Attendees)

	rejoined, err := svc.Join(ctx, "s1", "a")
	require.NoError(t, err)
	assert.True(t, rejoined.Value.IsFull)
}

func TestAttendance_UnknownSession(t *testing.T) {
	ctx := context.Background()
	svc, docs := newAttendanceService(t, 5)

	_, err := svc.Join(ctx, "ghost", "u1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	_, err = svc.Leave(ctx, "ghost", "u1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	_, err = svc.GetSession(ctx, "ghost")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	assert.Zero(t, docs.Size(model.SessionCollection), "join never creates a session")
}

func TestAttendance_InvalidUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAttendanceService(t, 5)
	_, err := svc.CreateSession(ctx, "s1", nil)
	require.NoError(t, err)

	_, err = svc.Join(ctx, "s1", "")
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
}

func TestJoinSession_NormalizesForeignDocuments(t *testing.T) {
	current := model.SessionAttendance{
		SessionID: "s1",
		Attendees: []string{"c", "a", "a"},
		Capacity:  intPtr(3),
	}

	next, err := joinSession("s1", "b")(current)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, next.Attendees)
	assert.True(t, next.IsFull)

	_, err = joinSession("s1", "c")(current)
	assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyJoined))
}

func TestJoinSession_AlreadyJoinedBeatsSessionFull(t *testing.T) {
	current := model.NewSessionAttendance("s1", intPtr(1)).WithAttendee("a")

	_, err := joinSession("s1", "a")(current)
	assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyJoined))
}
