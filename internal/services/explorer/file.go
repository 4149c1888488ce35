package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/3Eeeecho/go-fileshare/internal/config"
	"github.com/3Eeeecho/go-fileshare/internal/models"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/mq"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/mq/worker"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/search"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/storage"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-fileshare/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type FileService interface {
	// 文件查询
	GetFileByUUID(ctx context.Context, userID uint64, fileUUID string) (*models.File, error)
	ListUserFiles(ctx context.Context, userID uint64) ([]models.File, error)
	Search(ctx context.Context, userID uint64, keyword string) ([]search.FileDocument, error)

	// 小文件直传，不走断点续传会话
	DirectUpload(ctx context.Context, userID uint64, fileName, mimeType string, size int64, content io.Reader) (*models.File, error)

	// 文件下载
	Download(ctx context.Context, userID uint64, fileUUID string) (*models.File, io.ReadCloser, error)
	GetPresignedURLForDownload(ctx context.Context, userID uint64, fileUUID string) (string, error)
	DownloadArchive(ctx context.Context, userID uint64, fileUUIDs []string) (io.ReadCloser, error)

	// 文件删除（异步，物理清理交给后台 worker）
	Delete(ctx context.Context, userID uint64, fileUUID string) error
}

type fileService struct {
	fileRepo       repositories.FileRepository
	storageService storage.StorageService
	mqClient       mq.MessageQueue
	indexer        search.Indexer // 可以为 nil
	cfg            *config.Config
}

var _ FileService = (*fileService)(nil)

// NewFileService 创建一个新的文件服务实例
func NewFileService(
	fileRepo repositories.FileRepository,
	storageService storage.StorageService,
	mqClient mq.MessageQueue,
	indexer search.Indexer,
	cfg *config.Config,
) FileService {
	return &fileService{
		fileRepo:       fileRepo,
		storageService: storageService,
		mqClient:       mqClient,
		indexer:        indexer,
		cfg:            cfg,
	}
}

// checkFile 获取文件并校验归属和状态
func (s *fileService) checkFile(ctx context.Context, userID uint64, fileUUID string) (*models.File, error) {
	file, err := s.fileRepo.FindByUUID(ctx, fileUUID)
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			return nil, xerr.ErrFileNotFound
		}
		logger.Error("checkFile: Failed to query file", zap.String("uuid", fileUUID), zap.Error(err))
		return nil, fmt.Errorf("file service: %w", xerr.ErrDatabaseError)
	}
	// 不属于当前用户的文件当作不存在，避免泄露
	if file.UserID != userID {
		return nil, xerr.ErrFileNotFound
	}
	if file.Status != models.StatusNormal {
		return nil, xerr.ErrFileNotFound
	}
	return file, nil
}

func (s *fileService) GetFileByUUID(ctx context.Context, userID uint64, fileUUID string) (*models.File, error) {
	file, err := s.checkFile(ctx, userID, fileUUID)
	if err != nil {
		return nil, err
	}
	logger.Info("GetFileByUUID success", zap.Uint64("userID", userID), zap.String("uuid", fileUUID))
	return file, nil
}

func (s *fileService) ListUserFiles(ctx context.Context, userID uint64) ([]models.File, error) {
	files, err := s.fileRepo.FindByUserID(ctx, userID)
	if err != nil {
		logger.Error("ListUserFiles: Failed to list files", zap.Uint64("userID", userID), zap.Error(err))
		return nil, fmt.Errorf("file service: %w", xerr.ErrDatabaseError)
	}
	return files, nil
}

func (s *fileService) Search(ctx context.Context, userID uint64, keyword string) ([]search.FileDocument, error) {
	if s.indexer == nil {
		return nil, fmt.Errorf("file service: 搜索服务未启用")
	}
	docs, err := s.indexer.Search(ctx, userID, keyword)
	if err != nil {
		logger.Error("Search: search failed", zap.Uint64("userID", userID), zap.String("keyword", keyword), zap.Error(err))
		return nil, fmt.Errorf("file service: %w", xerr.ErrInternalServer)
	}
	return docs, nil
}

// DirectUpload 单次请求上传小文件
// 对象先写入存储，再落数据库记录，最后同步搜索索引。
func (s *fileService) DirectUpload(ctx context.Context, userID uint64, fileName, mimeType string, size int64, content io.Reader) (*models.File, error) {
	if fileName == "" {
		return nil, xerr.ErrFileNameMissing
	}
	if size < 0 {
		return nil, xerr.ErrInvalidUploadLength
	}
	if size > s.cfg.Upload.MaxUploadSize {
		return nil, xerr.ErrFileTooLarge
	}

	fileUUID := uuid.New().String()
	bucket := s.bucketName()
	ossKey := fmt.Sprintf("uploads/%d/%s", userID, fileUUID)

	result, err := s.storageService.PutObject(ctx, bucket, ossKey, content, size, mimeType)
	if err != nil {
		logger.Error("DirectUpload: PutObject failed", zap.String("ossKey", ossKey), zap.Error(err))
		return nil, fmt.Errorf("file service: %w", xerr.ErrStorageError)
	}

	file := &models.File{
		UUID:      fileUUID,
		UserID:    userID,
		FileName:  fileName,
		Size:      uint64(size),
		OssBucket: &bucket,
		OssKey:    &ossKey,
		Status:    models.StatusNormal,
	}
	if mimeType != "" {
		mt := mimeType
		file.MimeType = &mt
	}
	if result.ETag != "" {
		etag := result.ETag
		file.ETag = &etag
	}

	if err := s.fileRepo.Create(ctx, file); err != nil {
		// 记录没落库，回收已写入的对象
		if rmErr := s.storageService.RemoveObject(ctx, bucket, ossKey); rmErr != nil {
			logger.Error("DirectUpload: failed to remove orphaned object", zap.String("ossKey", ossKey), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("file service: %w", xerr.ErrDatabaseError)
	}

	if s.indexer != nil {
		if err := s.indexer.IndexFile(ctx, file); err != nil {
			logger.Error("DirectUpload: failed to index file", zap.String("uuid", fileUUID), zap.Error(err))
		}
	}

	logger.Info("DirectUpload success", zap.Uint64("userID", userID), zap.String("uuid", fileUUID), zap.Int64("size", size))
	return file, nil
}

func (s *fileService) Download(ctx context.Context, userID uint64, fileUUID string) (*models.File, io.ReadCloser, error) {
	file, err := s.checkFile(ctx, userID, fileUUID)
	if err != nil {
		return nil, nil, err
	}
	if file.OssKey == nil || *file.OssKey == "" {
		logger.Error("Download: File record has no OssKey", zap.String("uuid", fileUUID))
		return nil, nil, errors.New("文件数据不可用（缺少存储键）")
	}

	reader, err := s.getFileContentReader(ctx, file)
	if err != nil {
		return nil, nil, fmt.Errorf("获取文件内容失败: %w", err)
	}
	return file, reader, nil
}

func (s *fileService) GetPresignedURLForDownload(ctx context.Context, userID uint64, fileUUID string) (string, error) {
	file, err := s.checkFile(ctx, userID, fileUUID)
	if err != nil {
		return "", err
	}
	if file.OssKey == nil || file.OssBucket == nil {
		return "", errors.New("文件数据不可用（缺少存储键）")
	}

	expiry := time.Duration(s.cfg.Storage.PresignedURLExpiry) * time.Minute
	url, err := s.storageService.PreSignGetObjectURL(ctx, *file.OssBucket, *file.OssKey, expiry)
	if err != nil {
		logger.Error("GetPresignedURLForDownload: failed to presign", zap.String("uuid", fileUUID), zap.Error(err))
		return "", fmt.Errorf("file service: %w", xerr.ErrStorageError)
	}
	return url, nil
}

// Delete 把文件标记为待删除并投递异步清理任务
// 物理对象和数据库记录由 DeleteWorker 清除。
func (s *fileService) Delete(ctx context.Context, userID uint64, fileUUID string) error {
	file, err := s.checkFile(ctx, userID, fileUUID)
	if err != nil {
		return err
	}

	if err := s.fileRepo.UpdateFileStatus(ctx, file.ID, models.StatusDeleting); err != nil {
		return fmt.Errorf("file service: %w", xerr.ErrDatabaseError)
	}

	task := models.DeleteFileTask{
		FileID: file.ID,
		UUID:   file.UUID,
	}
	if file.OssBucket != nil {
		task.OssBucket = *file.OssBucket
	}
	if file.OssKey != nil {
		task.OssKey = *file.OssKey
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("file service: failed to marshal delete task: %w", err)
	}
	if err := s.mqClient.Publish(worker.DeleteQueueName, body); err != nil {
		logger.Error("Delete: failed to publish delete task", zap.Uint64("fileID", file.ID), zap.Error(err))
		// 回滚状态，让用户可以重试删除
		if revertErr := s.fileRepo.UpdateFileStatus(ctx, file.ID, models.StatusNormal); revertErr != nil {
			logger.Error("Delete: failed to revert file status", zap.Uint64("fileID", file.ID), zap.Error(revertErr))
		}
		return fmt.Errorf("file service: %w", xerr.ErrMQError)
	}

	logger.Info("Delete: file queued for deletion", zap.Uint64("userID", userID), zap.String("uuid", fileUUID))
	return nil
}

func (s *fileService) bucketName() string {
	switch s.cfg.Storage.Type {
	case "aliyun_oss":
		return s.cfg.AliyunOSS.BucketName
	default:
		return s.cfg.MinIO.BucketName
	}
}

// getFileContentReader 根据文件记录获取内容读取器
func (s *fileService) getFileContentReader(ctx context.Context, file *models.File) (io.ReadCloser, error) {
	bucket := s.bucketName()
	if file.OssBucket != nil && *file.OssBucket != "" {
		bucket = *file.OssBucket
	}
	result, err := s.storageService.GetObject(ctx, bucket, *file.OssKey)
	if err != nil {
		logger.Error("getFileContentReader: GetObject failed", zap.String("ossKey", *file.OssKey), zap.Error(err))
		return nil, fmt.Errorf("file service: %w", xerr.ErrStorageError)
	}
	return result.Reader, nil
}
