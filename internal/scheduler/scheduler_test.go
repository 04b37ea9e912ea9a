package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iaros/pricewatch/internal/model"
)

func TestLocalMarker_FirstMarkSucceedsSecondFails(t *testing.T) {
	m := newLocalMarker()
	ctx := context.Background()

	ok, err := m.TryMark(ctx, "tracker-1", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryMark(ctx, "tracker-1", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok, "a second mark before TTL expiry must be rejected")
}

func TestLocalMarker_IndependentPerTracker(t *testing.T) {
	m := newLocalMarker()
	ctx := context.Background()

	ok1, _ := m.TryMark(ctx, "tracker-1", time.Minute)
	ok2, _ := m.TryMark(ctx, "tracker-2", time.Minute)

	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestLocalMarker_ExpiresAfterTTL(t *testing.T) {
	m := newLocalMarker()
	ctx := context.Background()

	ok, _ := m.TryMark(ctx, "tracker-1", 20*time.Millisecond)
	assert.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	ok, err := m.TryMark(ctx, "tracker-1", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok, "marker must be re-acquirable once its TTL elapses")
}

func TestIsFailureStreakExceeded(t *testing.T) {
	under := model.CompetitorTracker{FailureStreak: 2}
	atLimit := model.CompetitorTracker{FailureStreak: 5}
	over := model.CompetitorTracker{FailureStreak: 9}

	assert.False(t, isFailureStreakExceeded(under, 5))
	assert.True(t, isFailureStreakExceeded(atLimit, 5))
	assert.True(t, isFailureStreakExceeded(over, 5))
}

func TestInFlightKey_IsNamespacedPerTracker(t *testing.T) {
	assert.Equal(t, "pricewatch:inflight:abc-123", inFlightKey("abc-123"))
	assert.NotEqual(t, inFlightKey("a"), inFlightKey("b"))
}
