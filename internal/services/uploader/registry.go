package uploader

import (
	"sync"
	"time"

	"github.com/3Eeeecho/go-fileshare/internal/pkg/cache"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/search"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/storage"
	"github.com/3Eeeecho/go-fileshare/internal/repositories"
)

// Config 是断点续传服务的运行参数
type Config struct {
	MaxUploadSize int64         // 单个文件的最大字节数
	SessionTTL    time.Duration // 会话从创建到过期的时长
}

// Registry 按 uploadID 管理会话 actor
// 同一个 uploadID 在任一时刻至多映射一个 actor，
// 每个操作都在当前映射的那个 actor 的锁下执行，
// 因此对同一会话的操作严格串行。
type Registry struct {
	mu     sync.Mutex
	actors map[string]*SessionActor

	cache    cache.Cache
	storage  storage.StorageService
	fileRepo repositories.FileRepository
	indexer  search.Indexer // 可以为 nil
	cfg      Config
}

// NewRegistry 创建会话注册表
func NewRegistry(
	c cache.Cache,
	s storage.StorageService,
	fileRepo repositories.FileRepository,
	indexer search.Indexer,
	cfg Config,
) *Registry {
	return &Registry{
		actors:   make(map[string]*SessionActor),
		cache:    c,
		storage:  s,
		fileRepo: fileRepo,
		indexer:  indexer,
		cfg:      cfg,
	}
}

// Actor 返回 uploadID 对应的会话 actor，不存在则创建
func (r *Registry) Actor(uploadID string) *SessionActor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[uploadID]; ok {
		return a
	}
	a := &SessionActor{
		uploadID: uploadID,
		registry: r,
	}
	r.actors[uploadID] = a
	return a
}

// owns 报告 a 是否仍然是其 uploadID 当前映射的 actor
func (r *Registry) owns(a *SessionActor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actors[a.uploadID] == a
}

// release 把 actor 从注册表移除，仅当它仍是当前映射
// 可能还持有旧引用的调用方会在 acquire 里发现自己已被逐出并换新重试，
// 因此逐出不会产生第二个同 uploadID 的持锁者。
func (r *Registry) release(a *SessionActor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actors[a.uploadID] == a {
		delete(r.actors, a.uploadID)
	}
}

func (r *Registry) actorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}
