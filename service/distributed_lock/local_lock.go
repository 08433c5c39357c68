package distributed_lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalLock 进程内锁，单实例部署且未配置Redis时使用
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]time.Time // key -> 过期时间
	now   func() time.Time
}

// NewLocalLock 创建进程内锁
func NewLocalLock() *LocalLock {
	return &LocalLock{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// TryLock 尝试获取锁，已过期的锁视为空闲
func (l *LocalLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiresAt, held := l.locks[key]; held && now.Before(expiresAt) {
		return false, nil
	}
	l.locks[key] = now.Add(ttl)
	return true, nil
}

// Unlock 释放锁
func (l *LocalLock) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
	return nil
}

// Refresh 刷新锁的过期时间
func (l *LocalLock) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiresAt, held := l.locks[key]
	if !held || !l.now().Before(expiresAt) {
		return fmt.Errorf("锁不存在或已过期")
	}
	l.locks[key] = l.now().Add(ttl)
	return nil
}

// IsLocked 检查锁是否存在
func (l *LocalLock) IsLocked(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiresAt, held := l.locks[key]
	return held && l.now().Before(expiresAt), nil
}
