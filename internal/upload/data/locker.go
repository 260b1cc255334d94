package data

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"github.com/lk2023060901/resumable-upload/internal/pkg/redis"
	"go.uber.org/zap"
)

// LockOptions 分布式锁参数
type LockOptions struct {
	Prefix string
	TTL    time.Duration
	// 持有期间按此间隔续期，默认 TTL/3
	RenewInterval time.Duration
	Retries       int
	RetryDelay    time.Duration
}

// DefaultLockOptions 默认锁参数
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Prefix:     "upload:lock:",
		TTL:        150 * time.Second,
		Retries:    50,
		RetryDelay: 100 * time.Millisecond,
	}
}

// RedisLocker 基于 Redis SET NX 的按 identity 互斥锁
type RedisLocker struct {
	client *redis.Client
	opts   LockOptions
	logger *logger.Logger
}

// NewRedisLocker 创建 Redis 锁
func NewRedisLocker(client *redis.Client, opts LockOptions, log *logger.Logger) *RedisLocker {
	def := DefaultLockOptions()
	if opts.Prefix == "" {
		opts.Prefix = def.Prefix
	}
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.RenewInterval <= 0 || opts.RenewInterval >= opts.TTL {
		opts.RenewInterval = opts.TTL / 3
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisLocker{client: client, opts: opts, logger: log.Named("locker")}
}

// Lock 获取锁，持有期间后台续期，返回的 unlock 只能调用一次
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.opts.Prefix + key
	token, err := l.client.TryLock(ctx, lockKey, l.opts.TTL, l.opts.Retries, l.opts.RetryDelay)
	if err != nil {
		return nil, err
	}

	renewCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go l.renew(renewCtx, key, lockKey, token, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
			if err := l.client.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
				l.logger.Warn("failed to release upload lock",
					zap.String("identity", key),
					zap.Error(err),
				)
			}
		})
	}, nil
}

// renew 续期直到 ctx 取消；锁已被他人持有时停止
func (l *RedisLocker) renew(ctx context.Context, key, lockKey, token string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.opts.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := l.client.Extend(ctx, lockKey, token, l.opts.TTL)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, redis.ErrLockMismatch):
			l.logger.Error("upload lock lost while held",
				zap.String("identity", key),
				zap.Error(err),
			)
			return
		default:
			l.logger.Warn("failed to renew upload lock",
				zap.String("identity", key),
				zap.Error(err),
			)
		}
	}
}

// MemoryLocker 进程内按 key 互斥，条目按引用计数回收
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*memLock
}

type memLock struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*memLock)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &memLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.release(key, lk)
		})
	}, nil
}

func (l *MemoryLocker) release(key string, lk *memLock) {
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

func (l *MemoryLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
