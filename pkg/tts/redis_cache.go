package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix Redis 缓存 key 前缀
const KeyPrefix = "jkid:tts:"

// RedisCache 基于 Redis 的音频缓存
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache 连接 Redis 并 Ping 一次
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get 未命中返回 false
func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := rc.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("从 Redis 获取失败: %w", err)
	}
	return data, true, nil
}

// Set ttl 为 0 时不过期
func (rc *RedisCache) Set(ctx context.Context, key string, audio []byte) error {
	if err := rc.client.Set(ctx, KeyPrefix+key, audio, rc.ttl).Err(); err != nil {
		return fmt.Errorf("保存到 Redis 失败: %w", err)
	}
	return nil
}

// Close 关闭连接
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
