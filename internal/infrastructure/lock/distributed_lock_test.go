package lock

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func TestLock_Exclusive(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	a := NewAccountLock(client, 7, "req-a")
	b := NewAccountLock(client, 7, "req-b")

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	err = b.Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)

	require.NoError(t, a.Unlock(ctx))
	require.NoError(t, b.Lock(ctx, time.Millisecond, 3))
}

func TestUnlock_OnlyHolderReleases(t *testing.T) {
	client, mr := newClient(t)
	ctx := context.Background()

	a := NewAccountLock(client, 7, "req-a")
	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, NewAccountLock(client, 7, "req-b").Unlock(ctx), ErrLockNotHeld)
	got, err := mr.Get("zyra:lock:account:7")
	require.NoError(t, err)
	assert.Equal(t, "req-a", got)
}

func TestLock_DifferentAccountsIndependent(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	ok1, _ := NewAccountLock(client, 1, "x").TryLock(ctx)
	ok2, _ := NewAccountLock(client, 2, "x").TryLock(ctx)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestAccountLocker_AcquireRelease(t *testing.T) {
	client, mr := newClient(t)
	locker := NewAccountLocker(client, nil)
	locker.maxRetries = 2
	locker.retryInterval = time.Millisecond
	ctx := context.Background()

	release, err := locker.Acquire(ctx, 9, "req-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("zyra:lock:account:9"))

	_, err = locker.Acquire(ctx, 9, "req-2")
	assert.ErrorIs(t, err, ErrLockFailed)

	release()
	assert.False(t, mr.Exists("zyra:lock:account:9"))
}

func TestAccountLocker_ReleaseFailureIsLogged(t *testing.T) {
	client, mr := newClient(t)
	var logs bytes.Buffer
	locker := NewAccountLocker(client, slog.New(slog.NewTextHandler(&logs, nil)))
	ctx := context.Background()

	release, err := locker.Acquire(ctx, 9, "req-1")
	require.NoError(t, err)

	// the lock expired and another request took it
	require.NoError(t, mr.Set("zyra:lock:account:9", "req-2"))
	release()

	got, err := mr.Get("zyra:lock:account:9")
	require.NoError(t, err)
	assert.Equal(t, "req-2", got)
	assert.Contains(t, logs.String(), "release account lock failed")
	assert.Contains(t, logs.String(), "req-1")
}
