package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindow_AllowThenDeny(t *testing.T) {
	limiter := NewCoreLimiter(NewInMemoryStore())
	ctx := context.Background()
	limit := Limit{Limit: 10, Window: time.Minute}

	for i := 1; i <= 10; i++ {
		res, err := limiter.Check(ctx, "user-1", limit, StrategyFixedWindow)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d should be allowed", i)
		assert.Equal(t, int64(10-i), res.Remaining)
	}

	res, err := limiter.Check(ctx, "user-1", limit, StrategyFixedWindow)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestSlidingWindow_EvictsExpiredEntries(t *testing.T) {
	store := NewInMemoryStore()
	limiter := NewCoreLimiter(store)
	ctx := context.Background()
	limit := Limit{Limit: 2, Window: 50 * time.Millisecond}

	res, err := limiter.Check(ctx, "k", limit, StrategySlidingWindow)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Check(ctx, "k", limit, StrategySlidingWindow)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Check(ctx, "k", limit, StrategySlidingWindow)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	time.Sleep(60 * time.Millisecond)

	res, err = limiter.Check(ctx, "k", limit, StrategySlidingWindow)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	store := NewInMemoryStore()
	limiter := NewCoreLimiter(store)
	ctx := context.Background()
	limit := Limit{BucketSize: 3, Rate: 1}

	for i := 0; i < 3; i++ {
		res, err := limiter.Check(ctx, "bucket", limit, StrategyTokenBucket)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.Check(ctx, "bucket", limit, StrategyTokenBucket)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestLeakyBucket_DeniesAtCapacity(t *testing.T) {
	store := NewInMemoryStore()
	limiter := NewCoreLimiter(store)
	ctx := context.Background()
	limit := Limit{BucketSize: 2, Rate: 0}

	res, err := limiter.Check(ctx, "leak", limit, StrategyLeakyBucket)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Check(ctx, "leak", limit, StrategyLeakyBucket)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Check(ctx, "leak", limit, StrategyLeakyBucket)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestUnknownStrategy(t *testing.T) {
	limiter := NewCoreLimiter(NewInMemoryStore())
	_, err := limiter.Check(context.Background(), "k", Limit{}, "bogus")
	assert.Error(t, err)
	var target ErrUnknownStrategy
	assert.ErrorAs(t, err, &target)
}

type failingStore struct{ Store }

func (failingStore) IncrementWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestFailOpenLimiter_AllowsOnStoreError(t *testing.T) {
	inner := NewCoreLimiter(failingStore{})
	failOpen := NewFailOpenLimiter(inner)

	res, err := failOpen.Check(context.Background(), "k", Limit{Limit: 5, Window: time.Minute}, StrategyFixedWindow)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
