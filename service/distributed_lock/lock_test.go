package distributed_lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLock(client).WithInstanceID("instance-a"), mr
}

func TestRedisLock_TryLockAndUnlock(t *testing.T) {
	lock, mr := setupRedisLock(t)
	ctx := context.Background()

	locked, err := lock.TryLock(ctx, "item-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "instance-a", mustGet(t, mr, "explanation:item_lock:item-1"))

	locked, err = lock.TryLock(ctx, "item-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, locked, "同一条目不能重复加锁")

	require.NoError(t, lock.Unlock(ctx, "item-1"))
	held, err := lock.IsLocked(ctx, "item-1")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRedisLock_OnlyOwnerCanUnlock(t *testing.T) {
	lock, _ := setupRedisLock(t)
	other := lock.WithInstanceID("instance-b")
	ctx := context.Background()

	locked, err := lock.TryLock(ctx, "item-1", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, other.Unlock(ctx, "item-1"))
	held, err := lock.IsLocked(ctx, "item-1")
	require.NoError(t, err)
	assert.True(t, held, "其他实例不能释放锁")

	assert.Error(t, other.Refresh(ctx, "item-1", time.Minute))
	assert.NoError(t, lock.Refresh(ctx, "item-1", 2*time.Minute))
}

func TestRedisLock_Expires(t *testing.T) {
	lock, mr := setupRedisLock(t)
	ctx := context.Background()

	locked, err := lock.TryLock(ctx, "item-1", time.Second)
	require.NoError(t, err)
	require.True(t, locked)

	mr.FastForward(2 * time.Second)

	locked, err = lock.TryLock(ctx, "item-1", time.Second)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestLocalLock(t *testing.T) {
	lock := NewLocalLock()
	current := time.Now()
	lock.now = func() time.Time { return current }
	ctx := context.Background()

	locked, err := lock.TryLock(ctx, "item-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, _ = lock.TryLock(ctx, "item-1", time.Minute)
	assert.False(t, locked)

	locked, _ = lock.TryLock(ctx, "item-2", time.Minute)
	assert.True(t, locked, "不同条目互不影响")

	current = current.Add(2 * time.Minute)
	held, _ := lock.IsLocked(ctx, "item-1")
	assert.False(t, held, "过期锁视为空闲")
	assert.Error(t, lock.Refresh(ctx, "item-1", time.Minute))

	locked, _ = lock.TryLock(ctx, "item-1", time.Minute)
	assert.True(t, locked)
	require.NoError(t, lock.Unlock(ctx, "item-1"))
	held, _ = lock.IsLocked(ctx, "item-1")
	assert.False(t, held)
}

func TestLockExecutor(t *testing.T) {
	lock := NewLocalLock()
	executor := NewLockExecutor(lock)
	ctx := context.Background()

	ran, err := executor.ExecuteWithLock(ctx, "item-1", time.Minute, func() error {
		held, _ := lock.IsLocked(ctx, "item-1")
		assert.True(t, held)

		innerRan, innerErr := executor.ExecuteWithLock(ctx, "item-1", time.Minute, func() error {
			t.Fatal("锁被占用时不应执行")
			return nil
		})
		assert.NoError(t, innerErr)
		assert.False(t, innerRan)
		return errors.New("job failed")
	})
	assert.True(t, ran)
	assert.EqualError(t, err, "job failed")

	held, _ := lock.IsLocked(ctx, "item-1")
	assert.False(t, held, "执行失败后也释放锁")
}

func TestLockExecutor_RefreshKeepsLockAlive(t *testing.T) {
	lock, mr := setupRedisLock(t)
	executor := NewLockExecutor(lock)
	ctx := context.Background()

	ran, err := executor.ExecuteWithLockAndRefresh(ctx, "item-1", time.Second, 20*time.Millisecond, func() error {
		time.Sleep(100 * time.Millisecond)
		ttl := mr.TTL("explanation:item_lock:item-1")
		assert.Greater(t, ttl, time.Duration(0))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("explanation:item_lock:item-1"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	value, err := mr.Get(key)
	require.NoError(t, err)
	return value
}
