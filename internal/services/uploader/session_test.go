package uploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/3Eeeecho/go-fileshare/internal/models"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/cache"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/storage"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-fileshare/internal/repositories"
)

// countingStorage 包装内存存储，统计关键调用次数
type countingStorage struct {
	*storage.MemoryStorageService
	initCalls     int
	abortCalls    int
	completeCalls int
}

func (s *countingStorage) InitMultiPartUpload(ctx context.Context, bucketName, objectName string, opts storage.PutObjectOptions) (string, error) {
	s.initCalls++
	return s.MemoryStorageService.InitMultiPartUpload(ctx, bucketName, objectName, opts)
}

func (s *countingStorage) AbortMultiPartUpload(ctx context.Context, bucketName, objectName, uploadID string) error {
	s.abortCalls++
	return s.MemoryStorageService.AbortMultiPartUpload(ctx, bucketName, objectName, uploadID)
}

func (s *countingStorage) CompleteMultiPartUpload(ctx context.Context, bucketName, objectName, uploadID string, parts []storage.UploadPartResult) (storage.PutObjectResult, error) {
	s.completeCalls++
	return s.MemoryStorageService.CompleteMultiPartUpload(ctx, bucketName, objectName, uploadID, parts)
}

// countingRepo 包装内存文件仓库，统计写入次数并支持注入读回失败
type countingRepo struct {
	repositories.FileRepository
	createCalls int
	findAbsent  bool // true 时 FindByUUID 假装记录不存在
}

func (r *countingRepo) Create(ctx context.Context, file *models.File) error {
	r.createCalls++
	return r.FileRepository.Create(ctx, file)
}

func (r *countingRepo) FindByUUID(ctx context.Context, uuid string) (*models.File, error) {
	if r.findAbsent {
		return nil, xerr.ErrFileNotFound
	}
	return r.FileRepository.FindByUUID(ctx, uuid)
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *countingStorage, *countingRepo, cache.Cache) {
	t.Helper()
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = 1 << 30
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = time.Hour
	}
	store := &countingStorage{MemoryStorageService: storage.NewMemoryStorageService()}
	repo := &countingRepo{FileRepository: repositories.NewMemoryFileRepository()}
	c := cache.NewMemoryCache()
	return NewRegistry(c, store, repo, nil, cfg), store, repo, c
}

func defaultParams(key string, totalSize int64) CreateParams {
	return CreateParams{
		OwnerID:       42,
		StorageBucket: "fileshare",
		StorageKey:    key,
		TotalSize:     totalSize,
		FileName:      "report.pdf",
		ContentType:   "application/pdf",
	}
}

func mustCreate(t *testing.T, a *SessionActor, p CreateParams) CreateResult {
	t.Helper()
	res, err := a.CreateOrResume(context.Background(), p)
	if err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}
	return res
}

func TestSequentialPartsAdvanceOffset(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, Config{})
	ctx := context.Background()
	a := reg.Actor("upload-1")
	mustCreate(t, a, defaultParams("uploads/42/upload-1", 30))

	chunks := []int64{10, 5, 15}
	var offset int64
	for i, size := range chunks {
		res, err := a.UploadPart(ctx, offset, bytes.NewReader(make([]byte, size)), size)
		if err != nil {
			t.Fatalf("chunk %d: UploadPart failed: %v", i, err)
		}
		offset += size
		if res.Offset != offset {
			t.Fatalf("chunk %d: offset = %d, want %d", i, res.Offset, offset)
		}
	}

	// 最后一个分片触发收尾
	status, _, err := a.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Offset != 30 || !status.Completed {
		t.Fatalf("status = {offset: %d, completed: %v}, want {30, true}", status.Offset, status.Completed)
	}
}

func TestOffsetMismatchRejected(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, Config{})
	ctx := context.Background()
	a := reg.Actor("upload-2")
	mustCreate(t, a, defaultParams("uploads/42/upload-2", 1000))

	// 服务端 offset 为 0 时在 500 处追加
	_, err := a.UploadPart(ctx, 500, bytes.NewReader(make([]byte, 100)), 100)
	var offErr *OffsetError
	if !errors.As(err, &offErr) {
		t.Fatalf("expected OffsetError, got %v", err)
	}
	if offErr.ServerOffset != 0 {
		t.Fatalf("ServerOffset = %d, want 0", offErr.ServerOffset)
	}

	// 状态必须原封不动
	status, _, err := a.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Offset != 0 {
		t.Fatalf("offset changed after rejected chunk: %d", status.Offset)
	}
}

func TestIdempotentResume(t *testing.T) {
	reg, store, _, _ := newTestRegistry(t, Config{})
	a := reg.Actor("upload-3")
	p := defaultParams("uploads/42/upload-3", 1000)

	first := mustCreate(t, a, p)
	if !first.Created || first.Offset != 0 {
		t.Fatalf("first call = %+v, want created with offset 0", first)
	}

	second := mustCreate(t, a, p)
	if second.Created {
		t.Fatal("second call reported created, want resumed")
	}
	if second.Offset != first.Offset || second.UploadID != first.UploadID {
		t.Fatalf("resume returned different identity: %+v vs %+v", second, first)
	}
	if store.initCalls != 1 {
		t.Fatalf("InitMultiPartUpload called %d times, want 1", store.initCalls)
	}
}

func TestResumeWithDifferentKeyConflicts(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, Config{})
	a := reg.Actor("upload-4")
	mustCreate(t, a, defaultParams("uploads/42/upload-4", 1000))

	_, err := a.CreateOrResume(context.Background(), defaultParams("uploads/42/other-key", 1000))
	if !errors.Is(err, xerr.ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict, got %v", err)
	}
}

func TestCreateValidatesTotalSize(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, Config{MaxUploadSize: 100})

	_, err := reg.Actor("too-large").CreateOrResume(context.Background(), defaultParams("uploads/42/too-large", 101))
	if !errors.Is(err, xerr.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}

	_, err = reg.Actor("negative").CreateOrResume(context.Background(), defaultParams("uploads/42/negative", -1))
	if !errors.Is(err, xerr.ErrInvalidUploadLength) {
		t.Fatalf("expected ErrInvalidUploadLength, got %v", err)
	}
}

func TestCompletionWritesExactlyOneRecord(t *testing.T) {
	reg, _, repo, _ := newTestRegistry(t, Config{})
	ctx := context.Background()
	a := reg.Actor("upload-5")
	mustCreate(t, a, defaultParams("uploads/42/upload-5", 1000))

	res, err := a.UploadPart(ctx, 0, bytes.NewReader(make([]byte, 1000)), 1000)
	if err != nil {
		t.Fatalf("UploadPart failed: %v", err)
	}
	if !res.Completed {
		t.Fatal("session not completed after final chunk")
	}
	if repo.createCalls != 1 {
		t.Fatalf("Create called %d times, want 1", repo.createCalls)
	}

	// 错过完成响应的客户端重发最后一个分片
	res, err = a.UploadPart(ctx, 1000, bytes.NewReader(make([]byte, 1000)), 1000)
	if err != nil {
		t.Fatalf("repeated tail chunk failed: %v", err)
	}
	if !res.Completed || res.Offset != 1000 {
		t.Fatalf("tail repeat = %+v, want completed at offset 1000", res)
	}
	if repo.createCalls != 1 {
		t.Fatalf("tail repeat wrote metadata again: %d calls", repo.createCalls)
	}
}

func TestRollbackOnVerificationFailure(t *testing.T) {
	reg, store, repo, _ := newTestRegistry(t, Config{})
	ctx := context.Background()
	a := reg.Actor("upload-6")
	p := defaultParams("uploads/42/upload-6", 100)
	mustCreate(t, a, p)

	repo.findAbsent = true
	_, err := a.UploadPart(ctx, 0, bytes.NewReader(make([]byte, 100)), 100)
	if !errors.Is(err, xerr.ErrCompletionFailed) {
		t.Fatalf("expected ErrCompletionFailed, got %v", err)
	}

	// 孤儿对象已被补偿删除
	if _, err := store.GetObject(ctx, p.StorageBucket, p.StorageKey); err == nil {
		t.Fatal("orphaned blob object still present after rollback")
	}

	// 会话回退为未完成
	status, _, err := a.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Completed {
		t.Fatal("session still marked completed after rollback")
	}
	if status.Offset != 100 {
		t.Fatalf("offset = %d, want 100 (accepted bytes must not be lost)", status.Offset)
	}
}

func TestExpirationCleanup(t *testing.T) {
	reg, store, _, c := newTestRegistry(t, Config{SessionTTL: -time.Second})
	ctx := context.Background()
	a := reg.Actor("upload-7")
	mustCreate(t, a, defaultParams("uploads/42/upload-7", 1000))

	expirer := NewExpirer(c, reg, time.Minute)
	expirer.SweepOnce(ctx)

	if store.abortCalls != 1 {
		t.Fatalf("AbortMultiPartUpload called %d times, want 1", store.abortCalls)
	}
	if _, _, err := reg.Actor("upload-7").Status(ctx); !errors.Is(err, xerr.ErrUploadSessionNotFound) {
		t.Fatalf("expected ErrUploadSessionNotFound after sweep, got %v", err)
	}

	// 再跑一轮不应该重复中止
	expirer.SweepOnce(ctx)
	if store.abortCalls != 1 {
		t.Fatalf("second sweep aborted again: %d calls", store.abortCalls)
	}
}

func TestSweepSkipsCompletedSession(t *testing.T) {
	reg, store, _, _ := newTestRegistry(t, Config{})
	ctx := context.Background()
	a := reg.Actor("upload-8")
	p := defaultParams("uploads/42/upload-8", 10)
	mustCreate(t, a, p)

	if _, err := a.UploadPart(ctx, 0, bytes.NewReader(make([]byte, 10)), 10); err != nil {
		t.Fatalf("UploadPart failed: %v", err)
	}

	// 迟到的过期触发必须是空操作
	if err := reg.Actor("upload-8").ExpireNow(ctx); err != nil {
		t.Fatalf("ExpireNow on completed session failed: %v", err)
	}
	if store.abortCalls != 0 {
		t.Fatalf("completed session was aborted: %d calls", store.abortCalls)
	}

	// 合并后的对象仍然存在
	if _, err := store.GetObject(ctx, p.StorageBucket, p.StorageKey); err != nil {
		t.Fatalf("completed object missing: %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	reg, store, _, _ := newTestRegistry(t, Config{})
	ctx := context.Background()
	a := reg.Actor("upload-9")
	mustCreate(t, a, defaultParams("uploads/42/upload-9", 1000))

	if err := a.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.abortCalls != 1 {
		t.Fatalf("AbortMultiPartUpload called %d times, want 1", store.abortCalls)
	}

	// 重复删除不是错误
	if err := reg.Actor("upload-9").Delete(ctx); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if _, _, err := reg.Actor("upload-9").Status(ctx); !errors.Is(err, xerr.ErrUploadSessionNotFound) {
		t.Fatalf("expected ErrUploadSessionNotFound after delete, got %v", err)
	}
}

func TestScenarioTwoLargeChunks(t *testing.T) {
	const total = 10_485_760
	const half = total / 2
	reg, _, repo, _ := newTestRegistry(t, Config{})
	ctx := context.Background()
	a := reg.Actor("upload-a")
	mustCreate(t, a, defaultParams("uploads/42/upload-a", total))

	res, err := a.UploadPart(ctx, 0, bytes.NewReader(make([]byte, half)), half)
	if err != nil {
		t.Fatalf("first half failed: %v", err)
	}
	if res.Offset != half || res.Completed {
		t.Fatalf("after first half: %+v, want offset %d not completed", res, half)
	}

	res, err = a.UploadPart(ctx, half, bytes.NewReader(make([]byte, half)), half)
	if err != nil {
		t.Fatalf("second half failed: %v", err)
	}
	if !res.Completed {
		t.Fatal("not completed after full size uploaded")
	}
	if repo.createCalls != 1 {
		t.Fatalf("Create called %d times, want 1", repo.createCalls)
	}

	record, err := repo.FileRepository.FindByUUID(ctx, "upload-a")
	if err != nil {
		t.Fatalf("final record missing: %v", err)
	}
	if record.Size != total {
		t.Fatalf("record size = %d, want %d", record.Size, total)
	}
}

func TestZeroLengthUpload(t *testing.T) {
	reg, store, _, _ := newTestRegistry(t, Config{})
	ctx := context.Background()
	a := reg.Actor("upload-0")
	p := defaultParams("uploads/42/upload-0", 0)
	mustCreate(t, a, p)

	res, err := a.UploadPart(ctx, 0, bytes.NewReader(nil), 0)
	if err != nil {
		t.Fatalf("empty chunk failed: %v", err)
	}
	if !res.Completed || res.Offset != 0 {
		t.Fatalf("zero-length upload = %+v, want completed at offset 0", res)
	}

	obj, err := store.GetObject(ctx, p.StorageBucket, p.StorageKey)
	if err != nil {
		t.Fatalf("zero-length object missing: %v", err)
	}
	if obj.Size != 0 {
		t.Fatalf("object size = %d, want 0", obj.Size)
	}
}

func TestChunkBeyondDeclaredTotalRejected(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, Config{})
	ctx := context.Background()
	a := reg.Actor("upload-b")
	mustCreate(t, a, defaultParams("uploads/42/upload-b", 100))

	_, err := a.UploadPart(ctx, 0, bytes.NewReader(make([]byte, 200)), 200)
	if !errors.Is(err, xerr.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for oversized chunk, got %v", err)
	}
}

// gatedStorage 让第一次 UploadPart 在存储内部停住，暴露并发交错的窗口
type gatedStorage struct {
	*storage.MemoryStorageService
	entered chan struct{} // 第一个调用进入存储后关闭
	proceed chan struct{} // 测试方关闭后第一个调用才继续
	once    sync.Once
	calls   int32
}

func (s *gatedStorage) UploadPart(ctx context.Context, bucketName, objectName, uploadID string, reader io.Reader, partNumber int, partSize int64) (storage.UploadPartResult, error) {
	atomic.AddInt32(&s.calls, 1)
	s.once.Do(func() {
		close(s.entered)
		<-s.proceed
	})
	return s.MemoryStorageService.UploadPart(ctx, bucketName, objectName, uploadID, reader, partNumber, partSize)
}

// 取消再重建会话后，旧的 actor 引用必须和新引用竞争同一把锁，
// 两个 offset 0 的分片不允许都进到存储里。
func TestStaleActorReferenceStillSerializes(t *testing.T) {
	store := &gatedStorage{
		MemoryStorageService: storage.NewMemoryStorageService(),
		entered:              make(chan struct{}),
		proceed:              make(chan struct{}),
	}
	repo := &countingRepo{FileRepository: repositories.NewMemoryFileRepository()}
	reg := NewRegistry(cache.NewMemoryCache(), store, repo, nil, Config{MaxUploadSize: 1 << 30, SessionTTL: time.Hour})
	ctx := context.Background()
	p := defaultParams("uploads/42/upload-e", 10)

	// 旧引用经历一次取消，注册表随之逐出它的映射
	stale := reg.Actor("upload-e")
	mustCreate(t, stale, p)
	if err := stale.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	fresh := reg.Actor("upload-e")
	mustCreate(t, fresh, p)

	type outcome struct {
		res PartResult
		err error
	}
	results := make(chan outcome, 2)
	upload := func(a *SessionActor) {
		res, err := a.UploadPart(ctx, 0, bytes.NewReader(make([]byte, 5)), 5)
		results <- outcome{res, err}
	}
	go upload(stale)
	go upload(fresh)

	<-store.entered
	close(store.proceed)

	first, second := <-results, <-results
	if first.err != nil {
		first, second = second, first
	}
	if first.err != nil {
		t.Fatalf("both uploads failed: %v / %v", first.err, second.err)
	}
	if first.res.Offset != 5 {
		t.Fatalf("winning chunk advanced offset to %d, want 5", first.res.Offset)
	}

	// 输掉的那个分片必须被 offset 闸门拒掉，而不是静默覆盖
	var offErr *OffsetError
	if !errors.As(second.err, &offErr) {
		t.Fatalf("expected OffsetError for the losing chunk, got %v", second.err)
	}
	if offErr.ServerOffset != 5 {
		t.Fatalf("ServerOffset = %d, want 5", offErr.ServerOffset)
	}
	if n := atomic.LoadInt32(&store.calls); n != 1 {
		t.Fatalf("storage UploadPart called %d times, want 1", n)
	}
	status, _, err := reg.Actor("upload-e").Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Offset != 5 {
		t.Fatalf("final offset = %d, want 5", status.Offset)
	}
}

func TestCompletedSessionReleasesActor(t *testing.T) {
	reg, _, repo, _ := newTestRegistry(t, Config{})
	ctx := context.Background()
	a := reg.Actor("upload-f")
	mustCreate(t, a, defaultParams("uploads/42/upload-f", 10))

	if _, err := a.UploadPart(ctx, 0, bytes.NewReader(make([]byte, 10)), 10); err != nil {
		t.Fatalf("UploadPart failed: %v", err)
	}
	if n := reg.actorCount(); n != 0 {
		t.Fatalf("registry holds %d actors after completion, want 0", n)
	}

	// 保留期内重发最后一个分片依旧拿到幂等的完成响应
	res, err := reg.Actor("upload-f").UploadPart(ctx, 10, bytes.NewReader(make([]byte, 10)), 10)
	if err != nil {
		t.Fatalf("tail repeat failed: %v", err)
	}
	if !res.Completed || res.Offset != 10 {
		t.Fatalf("tail repeat = %+v, want completed at offset 10", res)
	}
	if repo.createCalls != 1 {
		t.Fatalf("Create called %d times, want 1", repo.createCalls)
	}
	if n := reg.actorCount(); n != 0 {
		t.Fatalf("registry holds %d actors after tail repeat, want 0", n)
	}
}

// zAddFailCache 模拟到期调度写入失败
type zAddFailCache struct {
	cache.Cache
}

func (c *zAddFailCache) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return errors.New("zadd unavailable")
}

func TestCreateFailsWhenExpirationUnschedulable(t *testing.T) {
	store := &countingStorage{MemoryStorageService: storage.NewMemoryStorageService()}
	repo := &countingRepo{FileRepository: repositories.NewMemoryFileRepository()}
	c := &zAddFailCache{Cache: cache.NewMemoryCache()}
	reg := NewRegistry(c, store, repo, nil, Config{MaxUploadSize: 1 << 30, SessionTTL: time.Hour})
	ctx := context.Background()

	if _, err := reg.Actor("upload-g").CreateOrResume(ctx, defaultParams("uploads/42/upload-g", 10)); err == nil {
		t.Fatal("CreateOrResume succeeded with unschedulable expiration")
	}

	// 分块句柄被回收，没有留下永远不会被清扫的会话
	if store.abortCalls != 1 {
		t.Fatalf("AbortMultiPartUpload called %d times, want 1", store.abortCalls)
	}
	if _, _, err := reg.Actor("upload-g").Status(ctx); !errors.Is(err, xerr.ErrUploadSessionNotFound) {
		t.Fatalf("expected ErrUploadSessionNotFound, got %v", err)
	}
}

func TestUnknownSessionNotFound(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	if _, _, err := reg.Actor("no-such").Status(ctx); !errors.Is(err, xerr.ErrUploadSessionNotFound) {
		t.Fatalf("Status: expected ErrUploadSessionNotFound, got %v", err)
	}
	if _, err := reg.Actor("no-such").UploadPart(ctx, 0, bytes.NewReader(nil), 0); !errors.Is(err, xerr.ErrUploadSessionNotFound) {
		t.Fatalf("UploadPart: expected ErrUploadSessionNotFound, got %v", err)
	}
}
