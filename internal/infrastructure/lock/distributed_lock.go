package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis lock: SET key value NX EX ttl to acquire, a compare-and-delete script
// to release so an expired holder cannot free someone else's lock.

var (
	ErrLockFailed  = errors.New("could not acquire lock")
	ErrLockNotHeld = errors.New("lock not held by this holder")
)

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // holder token
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval, at most maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock. ErrLockNotHeld means it expired or another
// holder owns it now.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// NewAccountLock serializes balance mutations of one account across
// instances. requestID identifies the holder.
func NewAccountLock(client *redis.Client, userID int64, requestID string) *DistributedLock {
	key := fmt.Sprintf("zyra:lock:account:%d", userID)
	return NewDistributedLock(client, key, requestID, 15*time.Second)
}

// AccountLocker hands out per-account locks with bounded retry.
type AccountLocker struct {
	client        *redis.Client
	retryInterval time.Duration
	maxRetries    int
	log           *slog.Logger
}

func NewAccountLocker(client *redis.Client, log *slog.Logger) *AccountLocker {
	if log == nil {
		log = slog.Default()
	}
	return &AccountLocker{client: client, retryInterval: 50 * time.Millisecond, maxRetries: 40, log: log}
}

// Acquire blocks until the account lock is held and returns its release.
func (l *AccountLocker) Acquire(ctx context.Context, userID int64, token string) (func(), error) {
	dl := NewAccountLock(l.client, userID, token)
	if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// release with a fresh context so a canceled request still frees the lock
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := dl.Unlock(ctx); err != nil {
			l.log.Warn("release account lock failed",
				"user_id", userID, "token", token, "err", err)
		}
	}, nil
}
