package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryCache 基于进程内存的 Cache 实现
// 用于单元测试和本地开发，行为与 RedisCache 对齐（JSON 编码、惰性过期）。
// 重启后数据丢失，生产环境必须使用 Redis。
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	zsets   map[string]map[string]float64
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // 零值表示不过期
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		zsets:   make(map[string]map[string]float64),
	}
}

func (m *MemoryCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var expiresAt time.Time
	if expiration > 0 {
		expiresAt = time.Now().Add(expiration)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{data: data, expiresAt: expiresAt}
	return nil
}

func (m *MemoryCache) Get(ctx context.Context, key string, target any) error {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(entry.data, target)
}

func (m *MemoryCache) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if ok && !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(m.entries, key)
		return false, nil
	}
	return ok, nil
}

func (m *MemoryCache) Expire(ctx context.Context, key string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	entry.expiresAt = time.Now().Add(expiration)
	m.entries[key] = entry
	return nil
}

func (m *MemoryCache) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	zset, ok := m.zsets[key]
	if !ok {
		zset = make(map[string]float64)
		m.zsets[key] = zset
	}
	zset[member] = score
	return nil
}

func (m *MemoryCache) ZRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	zset, ok := m.zsets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(zset, member)
	}
	return nil
}

func (m *MemoryCache) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	zset, ok := m.zsets[key]
	if !ok {
		return nil, nil
	}
	type scored struct {
		member string
		score  float64
	}
	var hits []scored
	for member, score := range zset {
		if score >= min && score <= max {
			hits = append(hits, scored{member, score})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score < hits[j].score })
	members := make([]string, len(hits))
	for i, h := range hits {
		members[i] = h.member
	}
	return members, nil
}
