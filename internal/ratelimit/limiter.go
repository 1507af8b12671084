package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/irfndi/notifyhub/internal/telemetry"
)

// Strategy names one of the four pluggable rate-limit algorithms.
type Strategy string

const (
	StrategyFixedWindow   Strategy = "fixed_window"
	StrategySlidingWindow Strategy = "sliding_window"
	StrategyTokenBucket   Strategy = "token_bucket"
	StrategyLeakyBucket   Strategy = "leaky_bucket"
)

// ErrUnknownStrategy is returned by Check for an unregistered strategy name.
type ErrUnknownStrategy struct{ Strategy Strategy }

func (e ErrUnknownStrategy) Error() string {
	return fmt.Sprintf("ratelimit: unknown strategy %q", e.Strategy)
}

// Limit parameterizes one check. Window/Limit apply to fixed and sliding
// window; BucketSize/Rate apply to token and leaky bucket (Rate is
// tokens-per-second for token bucket, leaked-units-per-second for leaky).
type Limit struct {
	Limit      int64
	Window     time.Duration
	BucketSize float64
	Rate       float64
}

// Result is the outcome of one Check call.
type Result struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	Strategy   Strategy
}

// Limiter is the C1 contract: check(key, limit, strategy).
type Limiter interface {
	Check(ctx context.Context, key string, limit Limit, strategy Strategy) (Result, error)
}

// CoreLimiter dispatches to one of the four strategies against a Store.
type CoreLimiter struct {
	store Store
}

// NewCoreLimiter builds a Limiter over the given backing Store.
func NewCoreLimiter(store Store) *CoreLimiter {
	return &CoreLimiter{store: store}
}

func (l *CoreLimiter) Check(ctx context.Context, key string, limit Limit, strategy Strategy) (Result, error) {
	now := time.Now()
	switch strategy {
	case StrategyFixedWindow:
		return l.checkFixedWindow(ctx, key, limit, now)
	case StrategySlidingWindow:
		return l.checkSlidingWindow(ctx, key, limit, now)
	case StrategyTokenBucket:
		return l.checkTokenBucket(ctx, key, limit, now)
	case StrategyLeakyBucket:
		return l.checkLeakyBucket(ctx, key, limit, now)
	default:
		return Result{}, ErrUnknownStrategy{Strategy: strategy}
	}
}

func (l *CoreLimiter) checkFixedWindow(ctx context.Context, key string, limit Limit, now time.Time) (Result, error) {
	floor := now.Truncate(limit.Window)
	windowKey := fmt.Sprintf("ratelimit:fixed:%s:%d", key, floor.Unix())

	count, err := l.store.IncrementWindow(ctx, windowKey, limit.Window)
	if err != nil {
		return Result{}, err
	}

	remaining := limit.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= limit.Limit,
		Remaining: remaining,
		ResetAt:   floor.Add(limit.Window),
		Strategy:  StrategyFixedWindow,
	}, nil
}

func (l *CoreLimiter) checkSlidingWindow(ctx context.Context, key string, limit Limit, now time.Time) (Result, error) {
	windowKey := fmt.Sprintf("ratelimit:sliding:%s", key)
	count, allowed, err := l.store.SlidingWindowCheck(ctx, windowKey, now, limit.Window, limit.Limit)
	if err != nil {
		return Result{}, err
	}
	remaining := limit.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   now.Add(limit.Window),
		Strategy:  StrategySlidingWindow,
	}, nil
}

func (l *CoreLimiter) checkTokenBucket(ctx context.Context, key string, limit Limit, now time.Time) (Result, error) {
	bucketKey := fmt.Sprintf("ratelimit:token:%s", key)
	tokens, allowed, err := l.store.TokenBucketTake(ctx, bucketKey, limit.BucketSize, limit.Rate, now)
	if err != nil {
		return Result{}, err
	}
	resetIn := time.Duration(0)
	if limit.Rate > 0 {
		resetIn = time.Duration((1.0 / limit.Rate) * float64(time.Second))
	}
	return Result{
		Allowed:   allowed,
		Remaining: int64(tokens),
		ResetAt:   now.Add(resetIn),
		Strategy:  StrategyTokenBucket,
	}, nil
}

func (l *CoreLimiter) checkLeakyBucket(ctx context.Context, key string, limit Limit, now time.Time) (Result, error) {
	bucketKey := fmt.Sprintf("ratelimit:leaky:%s", key)
	level, allowed, err := l.store.LeakyBucketAdd(ctx, bucketKey, limit.BucketSize, limit.Rate, now)
	if err != nil {
		return Result{}, err
	}
	remaining := limit.BucketSize - level
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   allowed,
		Remaining: int64(remaining),
		ResetAt:   now,
		Strategy:  StrategyLeakyBucket,
	}, nil
}

// FailOpenLimiter wraps a Limiter so that a backing-store error never denies
// a request: a malfunctioning limiter should never be the reason a request
// is rejected. Each distinct key logs its storage error at most once per
// window.
type FailOpenLimiter struct {
	inner Limiter

	mu      sync.Mutex
	loggedAt map[string]time.Time
}

// NewFailOpenLimiter wraps inner with fail-open error handling.
func NewFailOpenLimiter(inner Limiter) *FailOpenLimiter {
	return &FailOpenLimiter{inner: inner, loggedAt: make(map[string]time.Time)}
}

func (f *FailOpenLimiter) Check(ctx context.Context, key string, limit Limit, strategy Strategy) (Result, error) {
	result, err := f.inner.Check(ctx, key, limit, strategy)
	if err == nil {
		return result, nil
	}
	if _, ok := err.(ErrUnknownStrategy); ok {
		return result, err
	}

	f.logOncePerWindow(ctx, key, limit.Window, err)
	return Result{
		Allowed:   true,
		Remaining: limit.Limit,
		ResetAt:   time.Now().Add(limit.Window),
		Strategy:  strategy,
	}, nil
}

func (f *FailOpenLimiter) logOncePerWindow(ctx context.Context, key string, window time.Duration, err error) {
	if window <= 0 {
		window = time.Minute
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	if last, ok := f.loggedAt[key]; ok && now.Sub(last) < window {
		return
	}
	f.loggedAt[key] = now

	telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "ratelimit_fail_open",
		"key":       key,
	}).Warnf("rate limiter backing store error, failing open: %v", err)
}
