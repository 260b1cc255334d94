package redis

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Set 设置键值（expiration 为 0 表示不过期）
func (c *Client) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	err := c.master.Set(ctx, key, value, expiration).Err()
	if err != nil {
		c.logger.Error("redis set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Get 获取键值，key 不存在时返回 ErrNil
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.readClient().Get(ctx, key).Bytes()
	if err != nil && !IsNil(err) {
		c.logger.Error("redis get failed", zap.String("key", key), zap.Error(err))
	}
	return val, err
}

// Del 删除键
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := c.master.Del(ctx, keys...).Result()
	if err != nil {
		c.logger.Error("redis del failed", zap.Strings("keys", keys), zap.Error(err))
	}
	return n, err
}

// TTL 获取剩余过期时间
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.readClient().TTL(ctx, key).Result()
}
