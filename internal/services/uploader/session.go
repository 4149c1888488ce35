package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/3Eeeecho/go-fileshare/internal/models"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/cache"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/storage"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/xerr"
	"go.uber.org/zap"
)

// completedRetention 是会话完成后状态的保留时长
// 在这个窗口内客户端重发最后一个分片会拿到幂等的完成响应，
// 之后会话文档由缓存 TTL 自然淘汰。
const completedRetention = time.Hour

// docGracePeriod 是会话文档在到期时间之后额外保留的时长
// 留给清扫器读取会话并中止分块上传的窗口。
const docGracePeriod = time.Hour

// CreateParams 是创建或恢复会话的入参
type CreateParams struct {
	OwnerID       uint64
	StorageBucket string
	StorageKey    string
	TotalSize     int64
	FileName      string
	ContentType   string
	Metadata      map[string]string
}

// CreateResult 创建或恢复会话的结果
type CreateResult struct {
	UploadID  string
	Created   bool // true 表示新建，false 表示恢复已有会话
	Offset    int64
	ExpiresAt time.Time
	Completed bool
}

// PartResult 提交分片后的结果
type PartResult struct {
	Offset    int64
	Completed bool
}

// SessionActor 独占一个上传会话的全部可变状态
// 同一会话的所有操作经由 mu 串行执行，actor 之间互不影响。
// 会话状态本身持久化在缓存里，actor 每次操作时加载、变更后回写，
// 因此进程重启后状态仍然可见。
type SessionActor struct {
	mu       sync.Mutex
	uploadID string
	registry *Registry
}

func (a *SessionActor) sessionKey() string {
	return cache.GenerateSessionKey(a.uploadID)
}

// acquire 锁住 uploadID 当前映射的 actor 并返回它
// 调用方手里的引用可能在等锁期间已被注册表逐出，
// 这时放弃旧引用换成最新映射重试，直到拿到的锁就是映射中那一个。
// 所有导出操作都必须经由 acquire 持锁，否则串行性会被逐出打破。
func (a *SessionActor) acquire() *SessionActor {
	cur := a
	for {
		cur.mu.Lock()
		if cur.registry.owns(cur) {
			return cur
		}
		cur.mu.Unlock()
		cur = cur.registry.Actor(cur.uploadID)
	}
}

// load 从缓存读取会话文档，不存在返回 (nil, nil)
func (a *SessionActor) load(ctx context.Context) (*models.UploadSession, error) {
	var s models.UploadSession
	err := a.registry.cache.Get(ctx, a.sessionKey(), &s)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load upload session: %w", err)
	}
	return &s, nil
}

// persist 把会话文档写回缓存
func (a *SessionActor) persist(ctx context.Context, s *models.UploadSession, ttl time.Duration) error {
	if err := a.registry.cache.Set(ctx, a.sessionKey(), s, ttl); err != nil {
		return fmt.Errorf("failed to persist upload session: %w", err)
	}
	return nil
}

func (a *SessionActor) activeDocTTL(s *models.UploadSession) time.Duration {
	ttl := time.Until(s.ExpiresAt) + docGracePeriod
	if ttl < docGracePeriod {
		ttl = docGracePeriod
	}
	return ttl
}

// CreateOrResume 创建新会话，或恢复一个未过期的已有会话
// 已有会话绑定了不同的存储键时返回 ErrSessionConflict。
// 已过期的会话按被放弃处理：清理后重新创建。
func (a *SessionActor) CreateOrResume(ctx context.Context, p CreateParams) (CreateResult, error) {
	a = a.acquire()
	defer a.mu.Unlock()

	s, err := a.load(ctx)
	if err != nil {
		return CreateResult{}, err
	}

	if s != nil {
		if s.StorageKey != p.StorageKey || s.StorageBucket != p.StorageBucket {
			return CreateResult{}, xerr.ErrSessionConflict
		}
		if !s.Completed && s.IsExpired(time.Now()) {
			// 过期但还没被清扫器处理，按放弃的会话清理后重建
			if err := a.cleanupLocked(ctx, s); err != nil {
				return CreateResult{}, err
			}
		} else {
			// 幂等恢复，不触发任何存储调用
			return CreateResult{
				UploadID:  a.uploadID,
				Created:   false,
				Offset:    s.UploadedSize,
				ExpiresAt: s.ExpiresAt,
				Completed: s.Completed,
			}, nil
		}
	}

	if p.TotalSize < 0 {
		a.registry.release(a)
		return CreateResult{}, xerr.ErrInvalidUploadLength
	}
	if p.TotalSize > a.registry.cfg.MaxUploadSize {
		a.registry.release(a)
		return CreateResult{}, xerr.ErrFileTooLarge
	}

	multipartID, err := a.registry.storage.InitMultiPartUpload(ctx, p.StorageBucket, p.StorageKey, storage.PutObjectOptions{
		ContentType: p.ContentType,
	})
	if err != nil {
		logger.Error("CreateOrResume: failed to init multipart upload",
			zap.String("uploadID", a.uploadID), zap.Error(err))
		a.registry.release(a)
		return CreateResult{}, fmt.Errorf("%w: %v", xerr.ErrStorageError, err)
	}

	now := time.Now()
	s = &models.UploadSession{
		UploadID:      a.uploadID,
		OwnerID:       p.OwnerID,
		StorageBucket: p.StorageBucket,
		StorageKey:    p.StorageKey,
		MultipartID:   multipartID,
		TotalSize:     p.TotalSize,
		UploadedSize:  0,
		FileName:      p.FileName,
		ContentType:   p.ContentType,
		Metadata:      p.Metadata,
		CreatedAt:     now,
		ExpiresAt:     now.Add(a.registry.cfg.SessionTTL),
		Completed:     false,
	}

	if err := a.persist(ctx, s, a.activeDocTTL(s)); err != nil {
		// 状态没有落盘，回收刚打开的分块上传
		if abortErr := a.registry.storage.AbortMultiPartUpload(ctx, s.StorageBucket, s.StorageKey, multipartID); abortErr != nil {
			logger.Error("CreateOrResume: failed to abort orphaned multipart upload",
				zap.String("uploadID", a.uploadID), zap.Error(abortErr))
		}
		a.registry.release(a)
		return CreateResult{}, err
	}

	// 到期时间写入有序集合，清扫器据此触发过期清理
	// 没进调度的会话永远不会被清扫，分块句柄会一直挂在对象存储上，
	// 所以这一步失败时整个创建失败，并回收已落盘的状态。
	if err := a.registry.cache.ZAdd(ctx, cache.SessionExpirationsKey, float64(s.ExpiresAt.Unix()), a.uploadID); err != nil {
		logger.Error("CreateOrResume: failed to schedule expiration",
			zap.String("uploadID", a.uploadID), zap.Error(err))
		if delErr := a.registry.cache.Del(ctx, a.sessionKey()); delErr != nil {
			logger.Error("CreateOrResume: failed to clear unscheduled session",
				zap.String("uploadID", a.uploadID), zap.Error(delErr))
		}
		if abortErr := a.registry.storage.AbortMultiPartUpload(ctx, s.StorageBucket, s.StorageKey, multipartID); abortErr != nil {
			logger.Error("CreateOrResume: failed to abort orphaned multipart upload",
				zap.String("uploadID", a.uploadID), zap.Error(abortErr))
		}
		a.registry.release(a)
		return CreateResult{}, fmt.Errorf("failed to schedule session expiration: %w", err)
	}

	logger.Info("CreateOrResume: upload session created",
		zap.String("uploadID", a.uploadID),
		zap.Uint64("ownerID", p.OwnerID),
		zap.Int64("totalSize", p.TotalSize))

	return CreateResult{
		UploadID:  a.uploadID,
		Created:   true,
		Offset:    0,
		ExpiresAt: s.ExpiresAt,
		Completed: false,
	}, nil
}

// Status 返回会话当前进度，只读无副作用
// 会话不存在或已过期返回 ErrUploadSessionNotFound。
func (a *SessionActor) Status(ctx context.Context) (*models.UploadStatus, time.Time, error) {
	a = a.acquire()
	defer a.mu.Unlock()

	s, err := a.load(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	if s == nil {
		a.registry.release(a)
		return nil, time.Time{}, xerr.ErrUploadSessionNotFound
	}
	if !s.Completed && s.IsExpired(time.Now()) {
		// 过期会话等清扫器处理，这里只报告不存在
		return nil, time.Time{}, xerr.ErrUploadSessionNotFound
	}

	return &models.UploadStatus{
		UploadID:  s.UploadID,
		Offset:    s.UploadedSize,
		TotalSize: s.TotalSize,
		Metadata:  s.Metadata,
		Completed: s.Completed,
	}, s.ExpiresAt, nil
}

// UploadPart 校验偏移量后提交下一个连续分片
// 只有对象存储确认写入成功后才推进 offset；达到声明总长时
// 在同一次调用内执行收尾流程，结果反映收尾的成败。
func (a *SessionActor) UploadPart(ctx context.Context, offset int64, chunk io.Reader, chunkSize int64) (PartResult, error) {
	a = a.acquire()
	defer a.mu.Unlock()

	s, err := a.load(ctx)
	if err != nil {
		return PartResult{}, err
	}
	if s == nil {
		a.registry.release(a)
		return PartResult{}, xerr.ErrUploadSessionNotFound
	}

	if s.Completed {
		// 客户端没收到完成响应后的重发，幂等返回当前状态
		a.registry.release(a)
		return PartResult{Offset: s.UploadedSize, Completed: true}, nil
	}

	if s.IsExpired(time.Now()) {
		return PartResult{}, xerr.ErrUploadSessionNotFound
	}

	// 所有字节已就位但上次收尾失败，重新驱动收尾
	// 客户端重发最后一个分片或发送空分片都会走到这里。
	if s.UploadedSize == s.TotalSize && len(s.Parts) > 0 {
		if err := a.completeLocked(ctx, s); err != nil {
			return PartResult{Offset: s.UploadedSize, Completed: false}, err
		}
		return PartResult{Offset: s.UploadedSize, Completed: true}, nil
	}

	if offset != s.UploadedSize {
		return PartResult{}, &OffsetError{ServerOffset: s.UploadedSize, ClientOffset: offset}
	}
	if s.UploadedSize+chunkSize > s.TotalSize {
		return PartResult{}, fmt.Errorf("%w: 分片超出声明的总长度", xerr.ErrInvalidParams)
	}

	partNumber := s.NextPartNumber()
	result, err := a.registry.storage.UploadPart(ctx, s.StorageBucket, s.StorageKey, s.MultipartID, chunk, partNumber, chunkSize)
	if err != nil {
		logger.Error("UploadPart: storage rejected part",
			zap.String("uploadID", a.uploadID),
			zap.Int("partNumber", partNumber),
			zap.Error(err))
		return PartResult{}, fmt.Errorf("%w: %v", xerr.ErrStorageError, err)
	}

	// 存储确认成功后才记录分片并推进 offset
	s.Parts = append(s.Parts, models.SessionPart{
		PartNumber: partNumber,
		ETag:       result.ETag,
		Size:       chunkSize,
	})
	s.UploadedSize += chunkSize
	if err := a.persist(ctx, s, a.activeDocTTL(s)); err != nil {
		return PartResult{}, err
	}

	if s.UploadedSize >= s.TotalSize {
		if err := a.completeLocked(ctx, s); err != nil {
			return PartResult{Offset: s.UploadedSize, Completed: false}, err
		}
		return PartResult{Offset: s.UploadedSize, Completed: true}, nil
	}

	return PartResult{Offset: s.UploadedSize, Completed: false}, nil
}

// completeLocked 执行收尾流程，调用方必须已持有 a.mu
// 流程: 完成分块上传 -> 写入文件记录 -> 读回校验。
// 校验失败时删除孤儿对象并把会话回退为未完成，整个调用可以重试。
func (a *SessionActor) completeLocked(ctx context.Context, s *models.UploadSession) error {
	if len(s.Parts) == 0 {
		return fmt.Errorf("%w: 会话没有任何分片", xerr.ErrInternalServer)
	}

	parts := make([]storage.UploadPartResult, len(s.Parts))
	for i, p := range s.Parts {
		parts[i] = storage.UploadPartResult{PartNumber: p.PartNumber, ETag: p.ETag, Size: p.Size}
	}

	putResult, err := a.registry.storage.CompleteMultiPartUpload(ctx, s.StorageBucket, s.StorageKey, s.MultipartID, parts)
	if err != nil {
		logger.Error("completeLocked: failed to complete multipart upload",
			zap.String("uploadID", a.uploadID), zap.Error(err))
		// 会话保持未完成，已接收的分片不丢失
		return fmt.Errorf("%w: %v", xerr.ErrCompletionFailed, err)
	}

	s.Completed = true
	if err := a.persist(ctx, s, a.activeDocTTL(s)); err != nil {
		return err
	}

	record, err := a.buildFileRecord(s, putResult)
	if err == nil {
		err = a.registry.fileRepo.Create(ctx, record)
	}
	if err == nil {
		// 读回校验，确认记录真的可见
		var verified *models.File
		verified, err = a.registry.fileRepo.FindByUUID(ctx, s.UploadID)
		if err == nil && verified == nil {
			err = xerr.ErrFileNotFound
		}
	}
	if err != nil {
		logger.Error("completeLocked: metadata write verification failed, rolling back",
			zap.String("uploadID", a.uploadID), zap.Error(err))
		// 补偿: 删除已合并的对象，回退完成标记，让客户端重试
		if rmErr := a.registry.storage.RemoveObject(ctx, s.StorageBucket, s.StorageKey); rmErr != nil {
			logger.Error("completeLocked: failed to remove orphaned object",
				zap.String("key", s.StorageKey), zap.Error(rmErr))
		}
		s.Completed = false
		if persistErr := a.persist(ctx, s, a.activeDocTTL(s)); persistErr != nil {
			logger.Error("completeLocked: failed to revert session state",
				zap.String("uploadID", a.uploadID), zap.Error(persistErr))
		}
		return fmt.Errorf("%w: %v", xerr.ErrCompletionFailed, err)
	}

	// 收尾成功: 取消过期回调，会话状态保留一段时间支持幂等重发
	if err := a.registry.cache.ZRem(ctx, cache.SessionExpirationsKey, a.uploadID); err != nil {
		logger.Error("completeLocked: failed to cancel expiration",
			zap.String("uploadID", a.uploadID), zap.Error(err))
	}
	if err := a.persist(ctx, s, completedRetention); err != nil {
		logger.Error("completeLocked: failed to set retention on completed session",
			zap.String("uploadID", a.uploadID), zap.Error(err))
	}

	// 同步搜索索引，失败只记录
	if a.registry.indexer != nil {
		if err := a.registry.indexer.IndexFile(ctx, record); err != nil {
			logger.Error("completeLocked: failed to index file",
				zap.String("uploadID", a.uploadID), zap.Error(err))
		}
	}

	logger.Info("completeLocked: upload completed",
		zap.String("uploadID", a.uploadID),
		zap.Int64("size", s.TotalSize),
		zap.Int("parts", len(s.Parts)))

	// 完成的会话不再需要 actor，逐出映射避免注册表随上传量无限增长
	// 保留期内的幂等重发会经由一个新 actor 从缓存读到完成状态。
	a.registry.release(a)
	return nil
}

func (a *SessionActor) buildFileRecord(s *models.UploadSession, putResult storage.PutObjectResult) (*models.File, error) {
	file := &models.File{
		UUID:      s.UploadID,
		UserID:    s.OwnerID,
		FileName:  s.FileName,
		Size:      uint64(s.TotalSize),
		OssBucket: &s.StorageBucket,
		OssKey:    &s.StorageKey,
		Status:    models.StatusNormal,
	}
	if s.ContentType != "" {
		ct := s.ContentType
		file.MimeType = &ct
	}
	if putResult.ETag != "" {
		etag := putResult.ETag
		file.ETag = &etag
	}
	if len(s.Metadata) > 0 {
		raw, err := json.Marshal(s.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode custom metadata: %w", err)
		}
		meta := string(raw)
		file.Metadata = &meta
	}
	return file, nil
}

// Delete 显式取消会话
// 未完成的会话中止其分块上传(尽力而为)，之后无条件清除状态。
// 会话不存在也返回成功，保证幂等。
func (a *SessionActor) Delete(ctx context.Context) error {
	a = a.acquire()
	defer a.mu.Unlock()

	s, err := a.load(ctx)
	if err != nil {
		return err
	}
	if s != nil {
		if err := a.cleanupLocked(ctx, s); err != nil {
			return err
		}
	}
	a.registry.release(a)
	return nil
}

// ExpireNow 由清扫器在到期时间过后调用
// 已完成的会话只移除调度条目；迟到的触发是无害的空操作。
func (a *SessionActor) ExpireNow(ctx context.Context) error {
	a = a.acquire()
	defer a.mu.Unlock()

	s, err := a.load(ctx)
	if err != nil {
		return err
	}
	if s == nil || s.Completed {
		// 会话已清除或已完成，清掉残留的调度条目即可
		if err := a.registry.cache.ZRem(ctx, cache.SessionExpirationsKey, a.uploadID); err != nil {
			logger.Error("ExpireNow: failed to remove expiration entry",
				zap.String("uploadID", a.uploadID), zap.Error(err))
		}
		a.registry.release(a)
		return nil
	}
	if !s.IsExpired(time.Now()) {
		return nil
	}

	logger.Info("ExpireNow: cleaning up abandoned upload session",
		zap.String("uploadID", a.uploadID))
	if err := a.cleanupLocked(ctx, s); err != nil {
		return err
	}
	a.registry.release(a)
	return nil
}

// cleanupLocked 中止分块上传并清除会话状态，调用方必须已持有 a.mu
// 不动注册表映射: CreateOrResume 的过期重建路径清理后还要继续
// 在同一个 actor 上新建会话，由各调用方决定何时逐出。
func (a *SessionActor) cleanupLocked(ctx context.Context, s *models.UploadSession) error {
	if !s.Completed && s.MultipartID != "" {
		if err := a.registry.storage.AbortMultiPartUpload(ctx, s.StorageBucket, s.StorageKey, s.MultipartID); err != nil {
			// 尽力而为: 句柄可能已经完成或中止
			logger.Error("cleanupLocked: failed to abort multipart upload",
				zap.String("uploadID", a.uploadID), zap.Error(err))
		}
	}
	if err := a.registry.cache.Del(ctx, a.sessionKey()); err != nil {
		return fmt.Errorf("failed to clear upload session: %w", err)
	}
	if err := a.registry.cache.ZRem(ctx, cache.SessionExpirationsKey, a.uploadID); err != nil {
		logger.Error("cleanupLocked: failed to remove expiration entry",
			zap.String("uploadID", a.uploadID), zap.Error(err))
	}
	return nil
}
