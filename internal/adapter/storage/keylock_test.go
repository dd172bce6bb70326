package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(ctx, "k")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Empty(t, locker.locks, "idle keys are forgotten")
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	releaseA, err := locker.Lock(ctx, "a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	releaseB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	releaseB()
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	locker := NewLocalLocker()

	release, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second call is a no-op

	again, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	again()
	assert.Empty(t, locker.locks)
}

func TestMemoryIdempotency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotency()

	ok, err := store.SetIdempotency(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetIdempotency(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.ReleaseIdempotency(ctx, "req-1"))
	ok, err = store.SetIdempotency(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
