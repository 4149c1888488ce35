package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ErrMemoryUploadNotFound 内存实现中 upload ID 不存在时返回
var ErrMemoryUploadNotFound = errors.New("memory storage: upload ID not found")

// MemoryStorageService 把对象保存在进程内存里的 StorageService 实现
// 用于单元测试和本地开发，不依赖任何外部存储服务。
type MemoryStorageService struct {
	mu      sync.Mutex
	objects map[string][]byte            // bucket/object -> data
	mimes   map[string]string            // bucket/object -> content type
	uploads map[string]*memoryMultipart  // uploadID -> 进行中的分块上传
	nextID  int
}

type memoryMultipart struct {
	bucket      string
	object      string
	contentType string
	parts       map[int][]byte
}

var _ StorageService = (*MemoryStorageService)(nil)

func NewMemoryStorageService() *MemoryStorageService {
	return &MemoryStorageService{
		objects: make(map[string][]byte),
		mimes:   make(map[string]string),
		uploads: make(map[string]*memoryMultipart),
	}
}

func objectKey(bucketName, objectName string) string {
	return bucketName + "/" + objectName
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (s *MemoryStorageService) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, contentType string) (PutObjectResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return PutObjectResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := objectKey(bucketName, objectName)
	s.objects[key] = data
	s.mimes[key] = contentType
	return PutObjectResult{
		Bucket: bucketName,
		Key:    objectName,
		Size:   int64(len(data)),
		ETag:   etagOf(data),
	}, nil
}

func (s *MemoryStorageService) GetObject(ctx context.Context, bucketName, objectName string) (GetObjectResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := objectKey(bucketName, objectName)
	data, ok := s.objects[key]
	if !ok {
		return GetObjectResult{}, fmt.Errorf("memory storage: object %s not found", key)
	}
	return GetObjectResult{
		Reader:   io.NopCloser(bytes.NewReader(data)),
		Size:     int64(len(data)),
		MimeType: s.mimes[key],
	}, nil
}

func (s *MemoryStorageService) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := objectKey(bucketName, objectName)
	delete(s.objects, key)
	delete(s.mimes, key)
	return nil
}

func (s *MemoryStorageService) IsBucketExist(ctx context.Context, bucketName string) (bool, error) {
	return true, nil
}

func (s *MemoryStorageService) MakeBucket(ctx context.Context, bucketName string) error {
	return nil
}

func (s *MemoryStorageService) PreSignGetObjectURL(ctx context.Context, bucketName, objectName string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s/%s", bucketName, objectName), nil
}

// --- 分块上传实现 ---

func (s *MemoryStorageService) InitMultiPartUpload(ctx context.Context, bucketName, objectName string, opts PutObjectOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	uploadID := fmt.Sprintf("memory-upload-%d", s.nextID)
	s.uploads[uploadID] = &memoryMultipart{
		bucket:      bucketName,
		object:      objectName,
		contentType: opts.ContentType,
		parts:       make(map[int][]byte),
	}
	return uploadID, nil
}

func (s *MemoryStorageService) UploadPart(ctx context.Context, bucketName, objectName, uploadID string, reader io.Reader, partNumber int, partSize int64) (UploadPartResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return UploadPartResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	upload, ok := s.uploads[uploadID]
	if !ok {
		return UploadPartResult{}, ErrMemoryUploadNotFound
	}
	upload.parts[partNumber] = data
	return UploadPartResult{
		PartNumber: partNumber,
		ETag:       etagOf(data),
		Size:       int64(len(data)),
	}, nil
}

func (s *MemoryStorageService) CompleteMultiPartUpload(ctx context.Context, bucketName, objectName, uploadID string, parts []UploadPartResult) (PutObjectResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	upload, ok := s.uploads[uploadID]
	if !ok {
		return PutObjectResult{}, ErrMemoryUploadNotFound
	}

	numbers := make([]int, 0, len(parts))
	for _, part := range parts {
		if _, ok := upload.parts[part.PartNumber]; !ok {
			return PutObjectResult{}, fmt.Errorf("memory storage: part %d not uploaded", part.PartNumber)
		}
		numbers = append(numbers, part.PartNumber)
	}
	sort.Ints(numbers)

	var buf bytes.Buffer
	for _, n := range numbers {
		buf.Write(upload.parts[n])
	}
	data := buf.Bytes()
	key := objectKey(upload.bucket, upload.object)
	s.objects[key] = data
	s.mimes[key] = upload.contentType
	delete(s.uploads, uploadID)

	return PutObjectResult{
		Bucket: upload.bucket,
		Key:    upload.object,
		Size:   int64(len(data)),
		ETag:   etagOf(data),
	}, nil
}

func (s *MemoryStorageService) AbortMultiPartUpload(ctx context.Context, bucketName, objectName, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 对已完成或已中止的句柄调用不是错误
	delete(s.uploads, uploadID)
	return nil
}

func (s *MemoryStorageService) IsUploadIDNotFound(err error) bool {
	return errors.Is(err, ErrMemoryUploadNotFound)
}
