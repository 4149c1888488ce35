package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrCacheMiss error = errors.New("缓存未命中,key不存在")

// Cache 缓存通用接口
// 上传会话的持久化和过期调度都建立在它之上，
// value 应该是一个可以被JSON封送的结构体或指向结构体的指针。
type Cache interface {
	// Set在缓存中设置一个值，并指定过期时间，expiration为0表示不过期。
	Set(ctx context.Context, key string, value any, expiration time.Duration) error

	// Get从缓存中检索一个值，并将其解编组到目标接口。
	// target应该是一个指针，指向希望解编组成的类型。
	Get(ctx context.Context, key string, target any) error

	// 删除一个或多个key
	Del(ctx context.Context, keys ...string) error

	// 检查key是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// 更新key的过期时间
	Expire(ctx context.Context, key string, expiration time.Duration) error

	// 有序集合操作函数，用于到期时间索引
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
}

// GenerateSessionKey 上传会话文档的缓存key
func GenerateSessionKey(uploadID string) string {
	return fmt.Sprintf("upload:session:%s", uploadID)
}

// SessionExpirationsKey 所有上传会话到期时间的有序集合key
const SessionExpirationsKey = "upload:expirations"
