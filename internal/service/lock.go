package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/graderoom/graderoom/pkg/errors"
)

// ErrSyncInProgress 该用户已有同步在进行
var ErrSyncInProgress = fmt.Errorf("%w: 该用户的同步正在进行", pkgerrors.ErrConflict)

// Locker 按用户名互斥；Acquire 返回的 release 必须调用且可重复调用
type Locker interface {
	Acquire(ctx context.Context, username string) (release func(), err error)
}

// lockClient Redis 锁的最小接口，由 pkg/redis.Client 实现
type lockClient interface {
	AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, token string) (bool, error)
}

// ── Redis 锁 ──

type redisLocker struct {
	client lockClient
	ttl    time.Duration
}

// NewRedisLocker 基于 SET NX PX 的跨实例锁
func NewRedisLocker(client lockClient, ttl time.Duration) Locker {
	return &redisLocker{client: client, ttl: ttl}
}

func (l *redisLocker) Acquire(ctx context.Context, username string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.AcquireLock(ctx, username, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("获取同步锁失败: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// 请求 ctx 可能已结束
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = l.client.ReleaseLock(ctx, username, token)
		})
	}, nil
}

// ── 进程内锁 ──

type localLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker Redis 不可用时的进程内锁
func NewLocalLocker() Locker {
	return &localLocker{held: make(map[string]struct{})}
}

func (l *localLocker) Acquire(_ context.Context, username string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[username]; ok {
		return nil, ErrSyncInProgress
	}
	l.held[username] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, username)
			l.mu.Unlock()
		})
	}, nil
}

// acquireWait 反复尝试获取锁直到成功或 ctx 结束
func acquireWait(ctx context.Context, locker Locker, username string, interval time.Duration) (func(), error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		release, err := locker.Acquire(ctx, username)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, ErrSyncInProgress) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
