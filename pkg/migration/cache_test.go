package migration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	clock := NewFakeClock()
	cache := newVersionCache(time.Minute, clock.Now)

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context, string) (int, error) {
		loads.Add(1)
		<-release
		return 4, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := cache.get(context.Background(), "P1", load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Let every goroutine reach the shared load before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, v := range results {
		assert.Equal(t, 4, v)
	}
}

func TestVersionCache_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	cache := newVersionCache(time.Minute, NewFakeClock().Now)

	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context, _ string) (int, error) {
		close(started)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-release:
			return 5, nil
		}
	}

	first, cancel := context.WithCancel(context.Background())
	cancel()

	var wg sync.WaitGroup
	var firstValue, secondValue int
	var firstErr, secondErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		firstValue, _, firstErr = cache.get(first, "P1", load)
	}()
	<-started
	go func() {
		defer wg.Done()
		secondValue, _, secondErr = cache.get(context.Background(), "P1", load)
	}()

	// Let the second caller join the load started by the first.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	require.NoError(t, secondErr)
	assert.Equal(t, 5, firstValue)
	assert.Equal(t, 5, secondValue)
}

func TestVersionCache_LoadRacingInvalidateIsNotStored(t *testing.T) {
	clock := NewFakeClock()
	cache := newVersionCache(time.Minute, clock.Now)

	stale := func(context.Context, string) (int, error) {
		cache.invalidateAll()
		return 1, nil
	}
	v, hit, err := cache.get(context.Background(), "P1", stale)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.False(t, hit)

	fresh := func(context.Context, string) (int, error) { return 2, nil }
	v, hit, err = cache.get(context.Background(), "P1", fresh)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.False(t, hit)

	v, hit, err = cache.get(context.Background(), "P1", fresh)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.True(t, hit)
}

func TestVersionCache_ErrorsAreNotCached(t *testing.T) {
	cache := newVersionCache(time.Minute, NewFakeClock().Now)

	_, _, err := cache.get(context.Background(), "P1", func(context.Context, string) (int, error) {
		return 0, errors.New("unavailable")
	})
	require.Error(t, err)

	v, hit, err := cache.get(context.Background(), "P1", func(context.Context, string) (int, error) {
		return 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.False(t, hit)
}
