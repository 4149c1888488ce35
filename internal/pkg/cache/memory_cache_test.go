package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheSetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	type doc struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}
	if err := c.Set(ctx, "k", doc{Name: "a.txt", Size: 3}, 0); err != nil {
		t.Fatalf("Set 失败: %v", err)
	}

	var got doc
	if err := c.Get(ctx, "k", &got); err != nil {
		t.Fatalf("Get 失败: %v", err)
	}
	if got.Name != "a.txt" || got.Size != 3 {
		t.Errorf("Get = %+v, 期望 {a.txt 3}", got)
	}

	if err := c.Get(ctx, "missing", &got); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("未命中返回 %v, 期望 ErrCacheMiss", err)
	}
}

func TestMemoryCacheExpiration(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.Set(ctx, "forever", "v", 0); err != nil {
		t.Fatalf("Set 失败: %v", err)
	}
	var s string
	if err := c.Get(ctx, "forever", &s); err != nil {
		t.Fatalf("Get 失败: %v", err)
	}

	if err := c.Set(ctx, "expired", "v", time.Nanosecond); err != nil {
		t.Fatalf("Set 失败: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := c.Get(ctx, "expired", &s); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("过期键返回 %v, 期望 ErrCacheMiss", err)
	}
	if exists, _ := c.Exists(ctx, "expired"); exists {
		t.Error("过期键 Exists 仍为 true")
	}
}

func TestMemoryCacheSortedSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := "expirations"

	if err := c.ZAdd(ctx, key, 30, "c"); err != nil {
		t.Fatalf("ZAdd 失败: %v", err)
	}
	if err := c.ZAdd(ctx, key, 10, "a"); err != nil {
		t.Fatalf("ZAdd 失败: %v", err)
	}
	if err := c.ZAdd(ctx, key, 20, "b"); err != nil {
		t.Fatalf("ZAdd 失败: %v", err)
	}

	members, err := c.ZRangeByScore(ctx, key, 0, 20)
	if err != nil {
		t.Fatalf("ZRangeByScore 失败: %v", err)
	}
	if len(members) != 2 || members[0] != "a" || members[1] != "b" {
		t.Errorf("ZRangeByScore = %v, 期望 [a b]", members)
	}

	if err := c.ZRem(ctx, key, "a", "b"); err != nil {
		t.Fatalf("ZRem 失败: %v", err)
	}
	members, err = c.ZRangeByScore(ctx, key, 0, 100)
	if err != nil {
		t.Fatalf("ZRangeByScore 失败: %v", err)
	}
	if len(members) != 1 || members[0] != "c" {
		t.Errorf("删除后剩余 = %v, 期望 [c]", members)
	}

	// 不存在的 key 和成员不报错
	if err := c.ZRem(ctx, "nope", "x"); err != nil {
		t.Errorf("对不存在的 key 执行 ZRem 返回 %v", err)
	}
}
