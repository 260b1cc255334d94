package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lk2023060901/resumable-upload/internal/pkg/redis"
	"github.com/lk2023060901/resumable-upload/internal/upload/biz"
)

// DefaultKeyPrefix 账本键前缀
const DefaultKeyPrefix = "upload:"

// RedisLedger 基于 Redis 的上传记录账本，记录以 JSON 存储
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger 创建 Redis 账本。ttl 为 0 表示记录不过期
func NewRedisLedger(client *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) key(identity string) string {
	return l.prefix + identity
}

// Get 读取记录
func (l *RedisLedger) Get(ctx context.Context, key string) (*biz.UploadRecord, error) {
	raw, err := l.client.Get(ctx, l.key(key))
	if err != nil {
		if redis.IsNil(err) {
			return nil, biz.ErrRecordNotFound
		}
		return nil, err
	}

	var rec biz.UploadRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode upload record %q: %w", key, err)
	}
	if rec.Parts == nil {
		rec.Parts = make([]biz.Part, 0, rec.TotalChunks)
	}
	return &rec, nil
}

// Set 写入记录，每次写入都会刷新 TTL
func (l *RedisLedger) Set(ctx context.Context, key string, rec *biz.UploadRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode upload record %q: %w", key, err)
	}
	return l.client.Set(ctx, l.key(key), raw, l.ttl)
}

// Delete 删除记录
func (l *RedisLedger) Delete(ctx context.Context, key string) error {
	_, err := l.client.Del(ctx, l.key(key))
	return err
}
