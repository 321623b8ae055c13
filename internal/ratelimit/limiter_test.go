package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playshelf/internal/common/errors"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []Config{
		{Capacity: 0, RefillPerSecond: 1, MaxInFlight: 1},
		{Capacity: 1, RefillPerSecond: 0, MaxInFlight: 1},
		{Capacity: 1, RefillPerSecond: 1, MaxInFlight: 0},
	}
	for _, cfg := range tests {
		_, err := New(cfg)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig), "config %+v", cfg)
	}
}

func TestAcquire_WithinCapacityIsImmediate(t *testing.T) {
	mock := clock.NewMock()
	l, err := New(Config{Capacity: 3, RefillPerSecond: 1, MaxInFlight: 10}, WithClock(mock))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		p, err := l.Acquire(context.Background())
		require.NoError(t, err)
		assert.Zero(t, p.Waited)
		p.Release()
	}

	assert.InDelta(t, 0, l.Stats().Tokens, 1e-9)
	assert.Equal(t, time.Second, l.Delay())
}

func TestAcquire_ExcessRequestsWait(t *testing.T) {
	// 20 tokens per second: each token beyond capacity costs 50ms
	l, err := New(Config{Capacity: 2, RefillPerSecond: 20, MaxInFlight: 10})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		p, err := l.Acquire(context.Background())
		require.NoError(t, err)
		p.Release()
	}

	assert.Greater(t, l.Delay(), time.Duration(0))

	start := time.Now()
	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	elapsed := time.Since(start)
	p.Release()

	assert.Greater(t, p.Waited, 30*time.Millisecond)
	assert.LessOrEqual(t, p.Waited, 50*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, p.Waited)
}

func TestAcquire_WaitersProceedAtRefillRate(t *testing.T) {
	l, err := New(Config{Capacity: 1, RefillPerSecond: 50, MaxInFlight: 10})
	require.NoError(t, err)

	const callers = 5
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.Acquire(context.Background())
			if assert.NoError(t, err) {
				p.Release()
			}
		}()
	}
	wg.Wait()

	// One immediate, then four more at 20ms each
	assert.GreaterOrEqual(t, time.Since(start), 4*20*time.Millisecond-5*time.Millisecond)
}

func TestAcquire_CancellationRestoresToken(t *testing.T) {
	mock := clock.NewMock()
	l, err := New(Config{Capacity: 1, RefillPerSecond: 1, MaxInFlight: 10}, WithClock(mock))
	require.NoError(t, err)

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Acquire(ctx)
		done <- err
	}()

	// Wait for the waiter's reservation to put the bucket into debt
	require.Eventually(t, func() bool { return l.Stats().Tokens < -0.5 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.IsType(err, errors.ErrTypeCanceled), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	assert.InDelta(t, 0, l.Stats().Tokens, 1e-9, "cancelled reservation must be returned")
	assert.Equal(t, 0, l.Stats().InFlight)

	// One refill interval later the next caller goes straight through
	mock.Add(time.Second)
	p, err = l.Acquire(context.Background())
	require.NoError(t, err)
	assert.Zero(t, p.Waited)
	p.Release()
}

func TestAcquire_DeadlineShorterThanWaitFailsFast(t *testing.T) {
	l, err := New(Config{Capacity: 1, RefillPerSecond: 0.1, MaxInFlight: 10})
	require.NoError(t, err)

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = l.Acquire(ctx)
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Greater(t, l.Stats().Tokens, -0.5)
}

func TestAcquire_InFlightCap(t *testing.T) {
	mock := clock.NewMock()
	l, err := New(Config{Capacity: 10, RefillPerSecond: 1, MaxInFlight: 1}, WithClock(mock))
	require.NoError(t, err)

	first, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, l.Stats().InFlight)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx)
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout), "got %v", err)

	// Waiting for a slot never touched the bucket
	assert.InDelta(t, 9, l.Stats().Tokens, 1e-9)

	first.Release()
	first.Release()
	assert.Equal(t, 0, l.Stats().InFlight)

	second, err := l.Acquire(context.Background())
	require.NoError(t, err)
	second.Release()
}

func TestAcquire_AlreadyCancelled(t *testing.T) {
	l, err := New(DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.Acquire(ctx)
	assert.True(t, errors.IsType(err, errors.ErrTypeCanceled))
	assert.InDelta(t, float64(DefaultConfig().Capacity), l.Stats().Tokens, 1e-9)
}
