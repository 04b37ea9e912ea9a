package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iaros/pricewatch/internal/apperr"
	"github.com/iaros/pricewatch/internal/ratelimit"
)

func TestGovernor_AcquireSucceedsWithinCapacity(t *testing.T) {
	g := ratelimit.New(ratelimit.Config{PerHostCapacity: 2, PerHostRefillPerSec: 10, GlobalConcurrency: 5}, nil)

	release, err := g.Acquire(context.Background(), "shop.example.com")
	require.NoError(t, err)
	release()
}

func TestGovernor_TimesOutWhenBucketExhausted(t *testing.T) {
	g := ratelimit.New(ratelimit.Config{PerHostCapacity: 1, PerHostRefillPerSec: 0.01, GlobalConcurrency: 5}, nil)

	release, err := g.Acquire(context.Background(), "slow.example.com")
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = g.Acquire(ctx, "slow.example.com")
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
}

func TestGovernor_GlobalConcurrencyCap(t *testing.T) {
	g := ratelimit.New(ratelimit.Config{PerHostCapacity: 10, PerHostRefillPerSec: 100, GlobalConcurrency: 1}, nil)

	releaseA, err := g.Acquire(context.Background(), "a.example.com")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, "b.example.com")
	require.Error(t, err)

	releaseA()
	_, err = g.Acquire(context.Background(), "b.example.com")
	require.NoError(t, err)
}

func TestGovernor_IndependentPerHostBuckets(t *testing.T) {
	g := ratelimit.New(ratelimit.Config{PerHostCapacity: 1, PerHostRefillPerSec: 0.01, GlobalConcurrency: 10}, nil)

	releaseA, err := g.Acquire(context.Background(), "a.example.com")
	require.NoError(t, err)
	releaseA()

	// a's bucket is now empty, but b's bucket is independent and full.
	releaseB, err := g.Acquire(context.Background(), "b.example.com")
	require.NoError(t, err)
	releaseB()
}
