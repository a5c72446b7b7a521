package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestPool_RunsEveryTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	var ran atomic.Int64
	p := New(context.Background(), Config{Name: "test", MaxWorkers: 4, QueueSize: 2})

	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(context.Background(), Task{
			ID: fmt.Sprintf("t%d", i),
			Fn: func(ctx context.Context) error {
				ran.Add(1)
				return nil
			},
		}))
	}
	require.NoError(t, p.Wait(5*time.Second))

	assert.Equal(t, int64(50), ran.Load())
	stats := p.Stats()
	assert.Equal(t, uint64(50), stats.Submitted)
	assert.Equal(t, uint64(50), stats.Completed)
	assert.Equal(t, 100.0, stats.SuccessRate())
}

func TestPool_ReportsFailuresAndPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	results := map[string]error{}
	p := New(context.Background(), Config{
		MaxWorkers: 2,
		OnResult: func(r Result) {
			mu.Lock()
			results[r.TaskID] = r.Err
			mu.Unlock()
		},
	})

	boom := errors.New("boom")
	require.NoError(t, p.Submit(context.Background(), Task{ID: "ok", Fn: func(context.Context) error { return nil }}))
	require.NoError(t, p.Submit(context.Background(), Task{ID: "err", Fn: func(context.Context) error { return boom }}))
	require.NoError(t, p.Submit(context.Background(), Task{ID: "panic", Fn: func(context.Context) error { panic("bad") }}))
	require.NoError(t, p.Wait(5*time.Second))

	require.Len(t, results, 3)
	assert.NoError(t, results["ok"])
	assert.ErrorIs(t, results["err"], boom)
	assert.ErrorContains(t, results["panic"], "panicked")
	assert.Equal(t, uint64(2), p.Stats().Failed)
}

func TestPool_SubmitAfterWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := New(context.Background(), Config{MaxWorkers: 1})
	require.NoError(t, p.Wait(time.Second))

	err := p.Submit(context.Background(), Task{ID: "late", Fn: func(context.Context) error { return nil }})
	assert.ErrorContains(t, err, "closed")
	assert.NoError(t, p.Wait(time.Second))
}

func TestPool_WaitTimeoutCancelsTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := New(context.Background(), Config{MaxWorkers: 1})

	require.NoError(t, p.Submit(context.Background(), Task{ID: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))

	err := p.Wait(20 * time.Millisecond)
	assert.ErrorContains(t, err, "did not drain")
	assert.Equal(t, uint64(1), p.Stats().Failed)
}
