package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// RedisLimiter is a fixed-window attempt counter shared by every API
// instance.
type RedisLimiter struct {
	client      *redis.Client
	prefix      string
	maxAttempts int
	window      time.Duration
}

func NewRedisLimiter(client *redis.Client, maxAttempts int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:      client,
		prefix:      "ratelimit:analyze:",
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// countAttempt increments the counter and gives it the window TTL whenever
// it has none, in one atomic step.
var countAttempt = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := countAttempt.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("count attempt: %w", err)
	}
	return count <= int64(l.maxAttempts), nil
}

// RedisLock is the in-flight flag for a session. The TTL only bounds how long
// a crashed instance can block a session; normal release deletes the key.
type RedisLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		prefix: "inflight:",
		ttl:    ttl,
	}
}

func (l *RedisLock) Acquire(ctx context.Context, session string) (string, bool, error) {
	token := newLockToken()
	ok, err := l.client.SetNX(ctx, l.prefix+session, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire in-flight flag: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// releaseIfOwner deletes the flag only while it still holds the caller's token.
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLock) Release(ctx context.Context, session, token string) error {
	if err := releaseIfOwner.Run(ctx, l.client, []string{l.prefix + session}, token).Err(); err != nil {
		return fmt.Errorf("release in-flight flag: %w", err)
	}
	return nil
}

func (l *RedisLock) Held(ctx context.Context, session string) (bool, error) {
	n, err := l.client.Exists(ctx, l.prefix+session).Result()
	if err != nil {
		return false, fmt.Errorf("check in-flight flag: %w", err)
	}
	return n > 0, nil
}
