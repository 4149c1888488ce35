package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type RedisCache struct {
	client *redis.Client
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		logger.Error("Failed to marshal cache value", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("序列化缓存值失败: %w", err)
	}

	err = r.client.Set(ctx, key, data, expiration).Err()
	if err != nil {
		logger.Error("Failed to set value in Redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("写入 Redis 失败: %w", err)
	}
	return nil
}

func (r *RedisCache) Get(ctx context.Context, key string, target any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrCacheMiss
		}
		logger.Error("Failed to get value from Redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("从 Redis 读取失败: %w", err)
	}

	err = json.Unmarshal(data, target)
	if err != nil {
		logger.Error("Failed to unmarshal cached value", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("反序列化缓存值失败: %w", err)
	}
	return nil
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := r.client.Del(ctx, keys...).Err()
	if err != nil {
		logger.Error("Failed to delete keys from Redis", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("从 Redis 删除键失败: %w", err)
	}
	return nil
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		logger.Error("Failed to check key existence in Redis", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("检查 Redis 键存在性失败: %w", err)
	}
	return count > 0, nil
}

func (r *RedisCache) Expire(ctx context.Context, key string, expiration time.Duration) error {
	err := r.client.Expire(ctx, key, expiration).Err()
	if err != nil {
		logger.Error("Failed to set expiration in Redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("设置 Redis 过期时间失败: %w", err)
	}
	return nil
}

func (r *RedisCache) ZAdd(ctx context.Context, key string, score float64, member string) error {
	err := r.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
	if err != nil {
		logger.Error("Failed to ZAdd member in Redis", zap.String("key", key), zap.String("member", member), zap.Error(err))
		return fmt.Errorf("ZAdd 操作失败: %w", err)
	}
	return nil
}

func (r *RedisCache) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	err := r.client.ZRem(ctx, key, args...).Err()
	if err != nil {
		logger.Error("Failed to ZRem members in Redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("ZRem 操作失败: %w", err)
	}
	return nil
}

func (r *RedisCache) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	members, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
	if err != nil {
		logger.Error("Failed to ZRangeByScore in Redis", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("ZRangeByScore 操作失败: %w", err)
	}
	return members, nil
}
