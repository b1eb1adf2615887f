package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	r "github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another attempt holds the job lock
var ErrLockHeld = errors.New("job lock held by another attempt")

// Locker grants one lease per job id at a time
type Locker interface {
	Acquire(ctx context.Context, jobID string, ttl time.Duration) (Lease, error)
}

// Lease is a held job lock
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

var (
	releaseScript = r.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = r.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker implements Locker with SET NX PX and token-checked release
type RedisLocker struct {
	rdb    r.UniversalClient
	prefix string
}

// NewRedisLocker creates a RedisLocker. Keys are "<prefix>:<job id>".
func NewRedisLocker(rdb r.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "content-pipeline:job-lock"
	}
	return &RedisLocker{rdb: rdb, prefix: prefix}
}

// Acquire takes the lock for jobID or returns ErrLockHeld
func (l *RedisLocker) Acquire(ctx context.Context, jobID string, ttl time.Duration) (Lease, error) {
	key := l.prefix + ":" + jobID
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire job lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return &redisLease{rdb: l.rdb, key: key, token: token}, nil
}

type redisLease struct {
	rdb   r.UniversalClient
	key   string
	token string
}

func (l *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend job lock: %w", err)
	}
	if n == 0 {
		return ErrLockHeld
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release job lock: %w", err)
	}
	return nil
}
