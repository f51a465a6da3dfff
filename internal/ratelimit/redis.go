package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared CounterStore and ViolationStore for multi-process
// deployments. Every counter update is a single Lua script or atomic command,
// so concurrent callers for the same client key stay correct across nodes.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "gatehouse:rl",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// tokenBucketScript refills continuously from the stored (tokens, stamp) pair
// and consumes one token when available. Returns {allowed, tokens-as-string};
// the float survives as a string because Lua replies truncate numbers.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refillPerSec = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'stamp')
local tokens = tonumber(state[1])
local stamp = tonumber(state[2])
if tokens == nil then
  tokens = capacity
  stamp = now
end

local elapsed = now - stamp
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * refillPerSec)
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'stamp', tostring(now))
redis.call('EXPIRE', KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

// slidingWindowScript expires old timestamps, then admits the member if the
// trailing-window count is under the limit. Returns {allowed, count, oldest}.
var slidingWindowScript = redis.NewScript(`
local windowMs = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local nowMs = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', nowMs - windowMs)
local count = redis.call('ZCARD', KEYS[1])
if count < max then
  redis.call('ZADD', KEYS[1], nowMs, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], windowMs * 2)
  return {1, count + 1, 0}
end

local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local oldestMs = 0
if oldest[2] then
  oldestMs = tonumber(oldest[2])
end
return {0, count, oldestMs}
`)

var leakyBucketScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local leakPerSec = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'level', 'stamp')
local level = tonumber(state[1])
local stamp = tonumber(state[2])
if level == nil then
  level = 0
  stamp = now
end

local elapsed = now - stamp
if elapsed > 0 then
  level = math.max(0, level - elapsed * leakPerSec)
end

local allowed = 0
if level < max then
  level = level + 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'level', tostring(level), 'stamp', tostring(now))
redis.call('EXPIRE', KEYS[1], ttl)
return {allowed, tostring(level)}
`)

func (s *RedisStore) Take(ctx context.Context, key string, cfg AlgorithmConfig, now time.Time) (Outcome, error) {
	switch cfg := cfg.(type) {
	case TokenBucketConfig:
		return s.takeToken(ctx, key, cfg, now)
	case SlidingWindowConfig:
		return s.takeSliding(ctx, key, cfg, now)
	case FixedWindowConfig:
		return s.takeFixed(ctx, key, cfg, now)
	case LeakyBucketConfig:
		return s.takeLeaky(ctx, key, cfg, now)
	}
	return Outcome{}, ErrInvalidConfig
}

func (s *RedisStore) takeToken(ctx context.Context, key string, cfg TokenBucketConfig, now time.Time) (Outcome, error) {
	refillPerSec := float64(cfg.MaxRequests) / cfg.Window.Seconds()
	ttl := int64(2 * cfg.Window / time.Second)

	reply, err := tokenBucketScript.Run(ctx, s.rdb, []string{s.counterKey(key)},
		cfg.capacity(), refillPerSec, unixSeconds(now), ttl).Slice()
	if err != nil {
		return Outcome{}, fmt.Errorf("token bucket: %w", err)
	}

	allowed, tokens, err := parseFloatReply(reply)
	if err != nil {
		return Outcome{}, err
	}

	if allowed {
		return Outcome{Allowed: true, Remaining: int(tokens)}, nil
	}
	return Outcome{RetryAfter: secondsToDuration((1 - tokens) / float64(cfg.MaxRequests) * cfg.Window.Seconds())}, nil
}

func (s *RedisStore) takeSliding(ctx context.Context, key string, cfg SlidingWindowConfig, now time.Time) (Outcome, error) {
	// The member must be unique per request so concurrent hits within the
	// same millisecond all count.
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	reply, err := slidingWindowScript.Run(ctx, s.rdb, []string{s.counterKey(key)},
		cfg.Window.Milliseconds(), cfg.MaxRequests, now.UnixMilli(), member).Slice()
	if err != nil {
		return Outcome{}, fmt.Errorf("sliding window: %w", err)
	}
	if len(reply) != 3 {
		return Outcome{}, fmt.Errorf("sliding window: unexpected reply %v", reply)
	}

	allowed := replyInt(reply[0]) == 1
	count := int(replyInt(reply[1]))
	if allowed {
		return Outcome{Allowed: true, Remaining: cfg.MaxRequests - count}, nil
	}

	oldest := time.UnixMilli(replyInt(reply[2]))
	return Outcome{RetryAfter: cfg.Window - now.Sub(oldest)}, nil
}

func (s *RedisStore) takeFixed(ctx context.Context, key string, cfg FixedWindowConfig, now time.Time) (Outcome, error) {
	windowID := now.UnixNano() / int64(cfg.Window)
	bucketKey := s.counterKey(key) + ":" + strconv.FormatInt(windowID, 10)

	count, err := s.rdb.Incr(ctx, bucketKey).Result()
	if err != nil {
		return Outcome{}, fmt.Errorf("fixed window: %w", err)
	}
	if count == 1 {
		s.rdb.PExpire(ctx, bucketKey, 2*cfg.Window)
	}

	if count > int64(cfg.MaxRequests) {
		windowEnd := time.Unix(0, (windowID+1)*int64(cfg.Window))
		return Outcome{RetryAfter: windowEnd.Sub(now)}, nil
	}
	return Outcome{Allowed: true, Remaining: cfg.MaxRequests - int(count)}, nil
}

func (s *RedisStore) takeLeaky(ctx context.Context, key string, cfg LeakyBucketConfig, now time.Time) (Outcome, error) {
	leakPerSec := float64(cfg.MaxRequests) / cfg.Window.Seconds()
	ttl := int64(2 * cfg.Window / time.Second)

	reply, err := leakyBucketScript.Run(ctx, s.rdb, []string{s.counterKey(key)},
		cfg.MaxRequests, leakPerSec, unixSeconds(now), ttl).Slice()
	if err != nil {
		return Outcome{}, fmt.Errorf("leaky bucket: %w", err)
	}

	allowed, level, err := parseFloatReply(reply)
	if err != nil {
		return Outcome{}, err
	}

	if allowed {
		return Outcome{Allowed: true, Remaining: int(float64(cfg.MaxRequests) - level)}, nil
	}
	overflow := level - float64(cfg.MaxRequests) + 1
	return Outcome{RetryAfter: secondsToDuration(overflow / leakPerSec)}, nil
}

// SweepExpired is a no-op: every Redis key carries its own TTL.
func (s *RedisStore) SweepExpired(context.Context, time.Time) int { return 0 }

func (s *RedisStore) AddViolation(ctx context.Context, clientKey string, _ time.Time) (int, error) {
	key := s.violationKey(clientKey)

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("add violation: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisStore) SetBan(ctx context.Context, clientKey string, until time.Time) error {
	key := s.banKey(clientKey)
	value := strconv.FormatInt(until.UnixMilli(), 10)

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, value, 0)
	pipe.PExpireAt(ctx, key, until)
	// The violation count expires with the ban, so a cleared ban always
	// starts the next escalation cycle from zero.
	pipe.PExpireAt(ctx, s.violationKey(clientKey), until)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set ban: %w", err)
	}
	return nil
}

func (s *RedisStore) BannedUntil(ctx context.Context, clientKey string, now time.Time) (time.Time, bool, error) {
	value, err := s.rdb.Get(ctx, s.banKey(clientKey)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("banned until: %w", err)
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("banned until: malformed value %q", value)
	}

	until := time.UnixMilli(ms)
	if !until.After(now) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *RedisStore) ClearViolations(ctx context.Context, clientKey string) error {
	if err := s.rdb.Del(ctx, s.violationKey(clientKey), s.banKey(clientKey)).Err(); err != nil {
		return fmt.Errorf("clear violations: %w", err)
	}
	return nil
}

func (s *RedisStore) counterKey(key string) string   { return s.prefix + ":c:" + key }
func (s *RedisStore) violationKey(key string) string { return s.prefix + ":v:" + sanitizeSegment(key) }
func (s *RedisStore) banKey(key string) string       { return s.prefix + ":b:" + sanitizeSegment(key) }

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func parseFloatReply(reply []any) (allowed bool, value float64, err error) {
	if len(reply) != 2 {
		return false, 0, fmt.Errorf("unexpected script reply %v", reply)
	}

	str, ok := reply[1].(string)
	if !ok {
		return false, 0, fmt.Errorf("unexpected script reply %v", reply)
	}
	value, err = strconv.ParseFloat(str, 64)
	if err != nil {
		return false, 0, fmt.Errorf("unexpected script reply %v: %w", reply, err)
	}
	return replyInt(reply[0]) == 1, value, nil
}

func replyInt(v any) int64 {
	n, _ := v.(int64)
	return n
}
