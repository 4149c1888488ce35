package storage

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/3Eeeecho/go-fileshare/internal/config"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"go.uber.org/zap"
)

type AliyunOSSStorageService struct {
	client *oss.Client
	cfg    *config.AliyunOSSConfig // 阿里云OSS的配置信息
}

var _ StorageService = (*AliyunOSSStorageService)(nil)

// NewAliyunOSSStorageService 创建并返回一个 AliyunOSSStorageService 实例
func NewAliyunOSSStorageService(cfg *config.AliyunOSSConfig) (*AliyunOSSStorageService, error) {
	// OSS Endpoint 应该包含 http:// 或 https:// 前缀
	ossClient, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		logger.Error("初始化阿里云OSS客户端失败", zap.Error(err))
		return nil, fmt.Errorf("无法初始化阿里云OSS客户端: %w", err)
	}
	logger.Info("阿里云OSS客户端初始化成功", zap.String("endpoint", cfg.Endpoint))
	return &AliyunOSSStorageService{
		client: ossClient,
		cfg:    cfg,
	}, nil
}

func (s *AliyunOSSStorageService) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, contentType string) (PutObjectResult, error) {
	bucket, err := s.client.Bucket(bucketName)
	if err != nil {
		return PutObjectResult{}, fmt.Errorf("获取OSS存储桶失败: %w", err)
	}

	err = bucket.PutObject(objectName, reader, oss.ContentType(contentType))
	if err != nil {
		return PutObjectResult{}, fmt.Errorf("阿里云OSS上传文件失败: %w", err)
	}

	// PutObject 本身不返回对象信息，ETag 需要额外 stat
	props, err := bucket.GetObjectDetailedMeta(objectName)
	etag := ""
	if err == nil {
		etag = props.Get("ETag")
	}
	return PutObjectResult{
		Bucket: bucketName,
		Key:    objectName,
		Size:   objectSize,
		ETag:   etag,
	}, nil
}

func (s *AliyunOSSStorageService) GetObject(ctx context.Context, bucketName, objectName string) (GetObjectResult, error) {
	bucket, err := s.client.Bucket(bucketName)
	if err != nil {
		return GetObjectResult{}, fmt.Errorf("获取OSS存储桶失败: %w", err)
	}

	reader, err := bucket.GetObject(objectName)
	if err != nil {
		return GetObjectResult{}, fmt.Errorf("阿里云OSS获取文件失败: %w", err)
	}

	// 获取对象元数据以获取Size和MimeType
	props, err := bucket.GetObjectDetailedMeta(objectName)
	if err != nil {
		logger.Warn("获取OSS对象元数据失败", zap.String("object", objectName), zap.Error(err))
	}

	size := int64(0)
	if val := props.Get(oss.HTTPHeaderContentLength); val != "" {
		size, _ = strconv.ParseInt(val, 10, 64)
	}
	mimeType := props.Get(oss.HTTPHeaderContentType)

	return GetObjectResult{
		Reader:   reader,
		Size:     size,
		MimeType: mimeType,
	}, nil
}

func (s *AliyunOSSStorageService) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	bucket, err := s.client.Bucket(bucketName)
	if err != nil {
		return fmt.Errorf("获取OSS存储桶失败: %w", err)
	}
	err = bucket.DeleteObject(objectName)
	if err != nil {
		return fmt.Errorf("阿里云OSS删除文件失败: %w", err)
	}
	return nil
}

func (s *AliyunOSSStorageService) IsBucketExist(ctx context.Context, bucketName string) (bool, error) {
	found, err := s.client.IsBucketExist(bucketName)
	if err != nil {
		return false, fmt.Errorf("检查阿里云OSS存储桶存在性失败: %w", err)
	}
	return found, nil
}

func (s *AliyunOSSStorageService) MakeBucket(ctx context.Context, bucketName string) error {
	err := s.client.CreateBucket(bucketName)
	if err != nil {
		// 检查是否是桶已存在错误
		if ossErr, ok := err.(oss.ServiceError); ok && (ossErr.Code == "BucketAlreadyExists" || ossErr.Code == "BucketAlreadyOwnedByYou") {
			logger.Info("阿里云OSS存储桶已存在，无需创建", zap.String("bucket", bucketName))
			return nil
		}
		return fmt.Errorf("创建阿里云OSS存储桶失败: %w", err)
	}
	logger.Info("阿里云OSS存储桶创建成功", zap.String("bucket", bucketName))
	return nil
}

// PreSignGetObjectURL 为下载生成预签名URL
func (s *AliyunOSSStorageService) PreSignGetObjectURL(ctx context.Context, bucketName, objectName string, expiry time.Duration) (string, error) {
	bucket, err := s.client.Bucket(bucketName)
	if err != nil {
		return "", fmt.Errorf("获取OSS存储桶失败: %w", err)
	}

	// SignURL 默认是 GET 方法
	signedURL, err := bucket.SignURL(objectName, oss.HTTPGet, int64(expiry.Seconds()))
	if err != nil {
		return "", fmt.Errorf("生成阿里云OSS预签名URL失败: %w", err)
	}
	return signedURL, nil
}

// --- 分块上传实现 ---

func (s *AliyunOSSStorageService) InitMultiPartUpload(ctx context.Context, bucketName, objectName string, opts PutObjectOptions) (string, error) {
	bucket, err := s.client.Bucket(bucketName)
	if err != nil {
		return "", fmt.Errorf("获取OSS存储桶失败: %w", err)
	}
	imur, err := bucket.InitiateMultipartUpload(objectName, oss.ContentType(opts.ContentType))
	if err != nil {
		return "", fmt.Errorf("阿里云OSS初始化分块上传失败: %w", err)
	}
	return imur.UploadID, nil
}

func (s *AliyunOSSStorageService) UploadPart(ctx context.Context, bucketName, objectName, uploadID string, reader io.Reader, partNumber int, partSize int64) (UploadPartResult, error) {
	bucket, err := s.client.Bucket(bucketName)
	if err != nil {
		return UploadPartResult{}, fmt.Errorf("获取OSS存储桶失败: %w", err)
	}
	imur := oss.InitiateMultipartUploadResult{
		Bucket:   bucketName,
		Key:      objectName,
		UploadID: uploadID,
	}
	part, err := bucket.UploadPart(imur, reader, partSize, partNumber)
	if err != nil {
		return UploadPartResult{}, fmt.Errorf("阿里云OSS上传分块失败: %w", err)
	}
	return UploadPartResult{
		PartNumber: part.PartNumber,
		ETag:       part.ETag,
		Size:       partSize,
	}, nil
}

func (s *AliyunOSSStorageService) CompleteMultiPartUpload(ctx context.Context, bucketName, objectName, uploadID string, parts []UploadPartResult) (PutObjectResult, error) {
	bucket, err := s.client.Bucket(bucketName)
	if err != nil {
		return PutObjectResult{}, fmt.Errorf("获取OSS存储桶失败: %w", err)
	}
	imur := oss.InitiateMultipartUploadResult{
		Bucket:   bucketName,
		Key:      objectName,
		UploadID: uploadID,
	}
	var completeParts []oss.UploadPart
	var totalSize int64
	for _, part := range parts {
		completeParts = append(completeParts, oss.UploadPart{
			PartNumber: part.PartNumber,
			ETag:       part.ETag,
		})
		totalSize += part.Size
	}
	result, err := bucket.CompleteMultipartUpload(imur, completeParts)
	if err != nil {
		return PutObjectResult{}, fmt.Errorf("阿里云OSS完成分块上传失败: %w", err)
	}
	return PutObjectResult{
		Bucket: result.Bucket,
		Key:    result.Key,
		Size:   totalSize,
		ETag:   result.ETag,
	}, nil
}

func (s *AliyunOSSStorageService) AbortMultiPartUpload(ctx context.Context, bucketName, objectName, uploadID string) error {
	bucket, err := s.client.Bucket(bucketName)
	if err != nil {
		return fmt.Errorf("获取OSS存储桶失败: %w", err)
	}
	imur := oss.InitiateMultipartUploadResult{
		Bucket:   bucketName,
		Key:      objectName,
		UploadID: uploadID,
	}
	err = bucket.AbortMultipartUpload(imur)
	if err != nil && s.IsUploadIDNotFound(err) {
		// 句柄已完成或已中止，视为成功
		return nil
	}
	return err
}

func (s *AliyunOSSStorageService) IsUploadIDNotFound(err error) bool {
	if err == nil {
		return false
	}
	// OSS 在 upload ID 不存在时返回 "NoSuchUpload" 错误码
	if ossErr, ok := err.(oss.ServiceError); ok && ossErr.Code == "NoSuchUpload" {
		return true
	}
	return false
}
