package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-fileshare/internal/models"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/cache"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/xerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FileRepository 定义文件数据访问层接口
type FileRepository interface {
	Create(ctx context.Context, file *models.File) error

	FindByID(ctx context.Context, id uint64) (*models.File, error)
	FindByUUID(ctx context.Context, uuid string) (*models.File, error) // 根据上传标识查找
	FindByUserID(ctx context.Context, userID uint64) ([]models.File, error)

	Update(ctx context.Context, file *models.File) error
	UpdateFileStatus(ctx context.Context, id uint64, status uint8) error
	PermanentDelete(ctx context.Context, id uint64) error // 永久删除文件记录
}

type fileRepository struct {
	db       *gorm.DB
	cache    cache.Cache
	cacheTTL time.Duration
}

var _ FileRepository = (*fileRepository)(nil)

// NewFileRepository 创建一个新的 FileRepository 实例
func NewFileRepository(db *gorm.DB, c cache.Cache) FileRepository {
	return &fileRepository{
		db:       db,
		cache:    c,
		cacheTTL: 10 * time.Minute,
	}
}

func generateFileUUIDKey(uuid string) string {
	return fmt.Sprintf("file:uuid:%s", uuid)
}

func (r *fileRepository) Create(ctx context.Context, file *models.File) error {
	err := r.db.WithContext(ctx).Create(file).Error
	if err != nil {
		logger.Error("Create: Failed to create file in DB", zap.Error(err), zap.Uint64("userID", file.UserID), zap.String("fileName", file.FileName))
		return fmt.Errorf("failed to create file: %w", err)
	}

	// 新记录写入 UUID 缓存，失败只记录不返回错误
	if err := r.cache.Set(ctx, generateFileUUIDKey(file.UUID), file, r.cacheTTL); err != nil {
		logger.Error("Create: Failed to cache file record", zap.String("uuid", file.UUID), zap.Error(err))
	}
	logger.Info("Create: File created", zap.Uint64("fileID", file.ID), zap.Uint64("userID", file.UserID))
	return nil
}

func (r *fileRepository) FindByID(ctx context.Context, id uint64) (*models.File, error) {
	var file models.File
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFileNotFound
		}
		logger.Error("FindByID: Failed to query file", zap.Uint64("id", id), zap.Error(err))
		return nil, err
	}
	return &file, nil
}

func (r *fileRepository) FindByUUID(ctx context.Context, uuid string) (*models.File, error) {
	// 先查缓存
	var cached models.File
	if err := r.cache.Get(ctx, generateFileUUIDKey(uuid), &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		logger.Error("FindByUUID: cache lookup failed", zap.String("uuid", uuid), zap.Error(err))
	}

	var file models.File
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFileNotFound
		}
		logger.Error("FindByUUID: Failed to query file", zap.String("uuid", uuid), zap.Error(err))
		return nil, err
	}

	if err := r.cache.Set(ctx, generateFileUUIDKey(uuid), &file, r.cacheTTL); err != nil {
		logger.Error("FindByUUID: Failed to cache file record", zap.String("uuid", uuid), zap.Error(err))
	}
	return &file, nil
}

func (r *fileRepository) FindByUserID(ctx context.Context, userID uint64) ([]models.File, error) {
	var files []models.File
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.StatusNormal).
		Order("created_at DESC").
		Find(&files).Error
	if err != nil {
		logger.Error("FindByUserID: Failed to query files", zap.Uint64("userID", userID), zap.Error(err))
		return nil, err
	}
	return files, nil
}

func (r *fileRepository) Update(ctx context.Context, file *models.File) error {
	err := r.db.WithContext(ctx).Save(file).Error
	if err != nil {
		logger.Error("Update: Failed to update file in DB", zap.Error(err), zap.Uint64("fileID", file.ID))
		return fmt.Errorf("failed to update file: %w", err)
	}

	if err := r.cache.Del(ctx, generateFileUUIDKey(file.UUID)); err != nil {
		logger.Error("Update: Failed to invalidate file cache", zap.String("uuid", file.UUID), zap.Error(err))
	}
	return nil
}

func (r *fileRepository) UpdateFileStatus(ctx context.Context, id uint64, status uint8) error {
	file, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Model(&models.File{}).Where("id = ?", id).Update("status", status).Error
	if err != nil {
		logger.Error("UpdateFileStatus: Failed to update status", zap.Uint64("id", id), zap.Uint8("status", status), zap.Error(err))
		return fmt.Errorf("failed to update file status: %w", err)
	}

	if err := r.cache.Del(ctx, generateFileUUIDKey(file.UUID)); err != nil {
		logger.Error("UpdateFileStatus: Failed to invalidate file cache", zap.String("uuid", file.UUID), zap.Error(err))
	}
	return nil
}

func (r *fileRepository) PermanentDelete(ctx context.Context, id uint64) error {
	file, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}

	// Unscoped() 绕过软删除
	err = r.db.WithContext(ctx).Unscoped().Delete(&models.File{}, id).Error
	if err != nil {
		return fmt.Errorf("永久删除文件失败: %w", err)
	}

	if err := r.cache.Del(ctx, generateFileUUIDKey(file.UUID)); err != nil {
		logger.Error("PermanentDelete: Failed to invalidate file cache", zap.String("uuid", file.UUID), zap.Error(err))
	}
	logger.Info("PermanentDelete: File record removed", zap.Uint64("fileID", id))
	return nil
}
