package uploader

import (
	"context"
	"time"

	"github.com/3Eeeecho/go-fileshare/internal/pkg/cache"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"go.uber.org/zap"
)

// Expirer 是会话过期清扫器
// 会话的到期时间记录在一个有序集合里，清扫器按固定间隔
// 取出所有已到期的 uploadID，并通过各自的 actor 执行清理，
// 保证清理和正常上传操作一样被串行化。
type Expirer struct {
	cache    cache.Cache
	registry *Registry
	interval time.Duration
}

// NewExpirer 创建清扫器
func NewExpirer(c cache.Cache, registry *Registry, interval time.Duration) *Expirer {
	return &Expirer{
		cache:    c,
		registry: registry,
		interval: interval,
	}
}

// Start 启动清扫循环，ctx 取消后退出
func (e *Expirer) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	logger.Info("Expirer: session sweep started", zap.Duration("interval", e.interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("Expirer: session sweep stopped")
			return
		case <-ticker.C:
			e.SweepOnce(ctx)
		}
	}
}

// SweepOnce 执行一轮清扫，处理所有到期时间不晚于当前时刻的会话
func (e *Expirer) SweepOnce(ctx context.Context) {
	now := time.Now()
	expired, err := e.cache.ZRangeByScore(ctx, cache.SessionExpirationsKey, 0, float64(now.Unix()))
	if err != nil {
		logger.Error("Expirer: failed to query expired sessions", zap.Error(err))
		return
	}

	for _, uploadID := range expired {
		if err := e.registry.Actor(uploadID).ExpireNow(ctx); err != nil {
			logger.Error("Expirer: failed to expire session",
				zap.String("uploadID", uploadID), zap.Error(err))
		}
	}
	if len(expired) > 0 {
		logger.Info("Expirer: sweep finished", zap.Int("expired", len(expired)))
	}
}
