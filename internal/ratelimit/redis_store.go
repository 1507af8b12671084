package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementWindowScript increments KEYS[1] and, on the first increment,
// sets its TTL to ARGV[1] seconds in the same round trip. Grounded on the
// source repo's redis.NewScript usage in queue.go's ReleaseLock: on the
// first increment, set TTL = window.
var incrementWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// slidingWindowScript evicts stale members, counts what remains, and
// conditionally inserts "now" — all atomically so concurrent callers never
// observe a stale count between the evict and the insert.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowSeconds = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cutoff = now - (windowSeconds * 1000)

redis.call("ZREMRANGEBYSCORE", key, "-inf", cutoff)
local count = redis.call("ZCARD", key)

if count >= limit then
  return {count, 0}
end

redis.call("ZADD", key, now, now .. "-" .. redis.call("INCR", key .. ":seq"))
redis.call("EXPIRE", key, windowSeconds)
redis.call("EXPIRE", key .. ":seq", windowSeconds)
return {count + 1, 1}
`)

// tokenBucketScript implements the refill-then-take arithmetic for a
// token bucket as a single script so refill and deduction never race.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refillRate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(data[1])
local lastRefill = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  lastRefill = now
end

local elapsed = math.max(0, now - lastRefill) / 1000
tokens = math.min(capacity, tokens + elapsed * refillRate)

local allowed = 0
if tokens >= 1.0 then
  tokens = tokens - 1.0
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", now)
redis.call("EXPIRE", key, 3600)
return {tostring(tokens), allowed}
`)

// leakyBucketScript mirrors tokenBucketScript for the leak-then-add case.
var leakyBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local leakRate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "level", "last_leak")
local level = tonumber(data[1])
local lastLeak = tonumber(data[2])
if level == nil then
  level = 0
  lastLeak = now
end

local elapsed = math.max(0, now - lastLeak) / 1000
level = math.max(0, level - elapsed * leakRate)

local allowed = 0
if level < capacity then
  level = level + 1
  allowed = 1
end

redis.call("HMSET", key, "level", level, "last_leak", now)
redis.call("EXPIRE", key, 3600)
return {tostring(level), allowed}
`)

// RedisStore backs the four strategies with Redis, using server-side Lua
// scripts so each check-and-mutate stays atomic.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	res, err := incrementWindowScript.Run(ctx, s.client, []string{key}, int64(window.Seconds())).Result()
	if err != nil {
		return 0, err
	}
	return toInt64(res), nil
}

func (s *RedisStore) SlidingWindowCheck(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (int64, bool, error) {
	res, err := slidingWindowScript.Run(ctx, s.client, []string{key}, now.UnixMilli(), int64(window.Seconds()), limit).Result()
	if err != nil {
		return 0, false, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, false, redis.Nil
	}
	return toInt64(vals[0]), toInt64(vals[1]) == 1, nil
}

func (s *RedisStore) TokenBucketTake(ctx context.Context, key string, capacity, refillRate float64, now time.Time) (float64, bool, error) {
	res, err := tokenBucketScript.Run(ctx, s.client, []string{key}, capacity, refillRate, now.UnixMilli()).Result()
	if err != nil {
		return 0, false, err
	}
	return parsePairResult(res)
}

func (s *RedisStore) LeakyBucketAdd(ctx context.Context, key string, capacity, leakRate float64, now time.Time) (float64, bool, error) {
	res, err := leakyBucketScript.Run(ctx, s.client, []string{key}, capacity, leakRate, now.UnixMilli()).Result()
	if err != nil {
		return 0, false, err
	}
	return parsePairResult(res)
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key, key+":seq").Err()
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}

func parsePairResult(res interface{}) (float64, bool, error) {
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, false, redis.Nil
	}
	s, ok := vals[0].(string)
	if !ok {
		return 0, false, redis.Nil
	}
	level, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	allowed := toInt64(vals[1]) == 1
	return level, allowed, nil
}
