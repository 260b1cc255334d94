package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 只有持有 token 的一方才能删除锁
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// 只有持有 token 的一方才能续期
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Lock 获取分布式锁，返回释放锁需要的 token
func (c *Client) Lock(ctx context.Context, key string, expiration time.Duration) (string, error) {
	token := uuid.New().String()

	ok, err := c.master.SetNX(ctx, key, token, expiration).Result()
	if err != nil {
		c.logger.Error("redis lock failed", zap.String("key", key), zap.Error(err))
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrLockNotHeld, key)
	}

	c.logger.Debug("redis lock acquired",
		zap.String("key", key),
		zap.Duration("expiration", expiration),
	)
	return token, nil
}

// Unlock 释放分布式锁（Lua 脚本保证原子性）
func (c *Client) Unlock(ctx context.Context, key, token string) error {
	n, err := unlockScript.Run(ctx, c.master, []string{key}, token).Int64()
	if err != nil {
		c.logger.Error("redis unlock failed", zap.String("key", key), zap.Error(err))
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockMismatch, key)
	}

	c.logger.Debug("redis lock released", zap.String("key", key))
	return nil
}

// Extend 续期分布式锁，token 不匹配或锁已过期时返回 ErrLockMismatch
func (c *Client) Extend(ctx context.Context, key, token string, expiration time.Duration) error {
	n, err := extendScript.Run(ctx, c.master, []string{key}, token, expiration.Milliseconds()).Int64()
	if err != nil {
		c.logger.Error("redis lock extend failed", zap.String("key", key), zap.Error(err))
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockMismatch, key)
	}
	return nil
}

// TryLock 尝试获取分布式锁（带重试）
func (c *Client) TryLock(ctx context.Context, key string, expiration time.Duration, maxRetries int, retryDelay time.Duration) (string, error) {
	var err error
	for i := 0; i <= maxRetries; i++ {
		var token string
		if token, err = c.Lock(ctx, key, expiration); err == nil {
			return token, nil
		}
		if i == maxRetries {
			break
		}

		timer := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	c.logger.Warn("redis trylock failed after retries",
		zap.String("key", key),
		zap.Int("retries", maxRetries),
		zap.Error(err),
	)
	return "", fmt.Errorf("failed to acquire lock after %d retries: %w", maxRetries, err)
}
