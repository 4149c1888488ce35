package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/3Eeeecho/go-fileshare/internal/config"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/utils"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-fileshare/internal/services/uploader"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 断点续传协议适配层
// 把 HTTP 请求翻译成会话 actor 的调用，自身不做任何存储 I/O。
// 进度和偏移量通过 Upload-* 响应头传递，响应体沿用统一 JSON 结构。

// deriveUploadID 计算会话标识
// 客户端在元数据里给出 fingerprint 时，同一用户对同一文件的重复创建
// 会得到同一个 uploadID，从而命中幂等恢复；否则随机分配。
func deriveUploadID(userID uint64, metadata map[string]string) string {
	if fp, ok := metadata["fingerprint"]; ok && fp != "" {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", userID, fp)))
		return hex.EncodeToString(sum[:])
	}
	return uuid.New().String()
}

func setExpiresHeader(c *gin.Context, expiresAt time.Time) {
	c.Header("Upload-Expires", expiresAt.UTC().Format(http.TimeFormat))
}

// CreateUploadHandler 创建（或恢复）一个断点续传会话
// @Summary 创建断点续传会话
// @Description 根据 Upload-Length 和 Upload-Metadata 请求头创建上传会话，返回会话地址和初始偏移量
// @Tags 断点续传
// @Produce json
// @Security BearerAuth
// @Param Upload-Length header int true "文件总字节数"
// @Param Upload-Metadata header string true "base64 编码的元数据，必须包含 filename"
// @Success 201 {object} xerr.Response "会话已创建"
// @Failure 400 {object} xerr.Response "长度或元数据非法"
// @Failure 409 {object} xerr.Response "同一标识绑定了不同存储键"
// @Failure 413 {object} xerr.Response "超出大小限制"
// @Router /api/v1/uploads [post]
func CreateUploadHandler(registry *uploader.Registry, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		currentUserID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		lengthStr := c.GetHeader("Upload-Length")
		if lengthStr == "" {
			xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidUploadLength, "Upload-Length header is required")
			return
		}
		totalSize, err := strconv.ParseInt(lengthStr, 10, 64)
		if err != nil || totalSize < 0 {
			xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidUploadLength, "Invalid Upload-Length header")
			return
		}

		metadata := utils.ParseUploadMetadata(c.GetHeader("Upload-Metadata"))
		fileName := metadata["filename"]
		if fileName == "" {
			xerr.Error(c, http.StatusBadRequest, xerr.CodeFileNameMissing, "Upload-Metadata must contain a filename")
			return
		}

		uploadID := deriveUploadID(currentUserID, metadata)
		bucket := bucketNameFromConfig(cfg)
		result, err := registry.Actor(uploadID).CreateOrResume(c.Request.Context(), uploader.CreateParams{
			OwnerID:       currentUserID,
			StorageBucket: bucket,
			StorageKey:    fmt.Sprintf("uploads/%d/%s", currentUserID, uploadID),
			TotalSize:     totalSize,
			FileName:      fileName,
			ContentType:   metadata["filetype"],
			Metadata:      metadata,
		})
		if err != nil {
			switch {
			case errors.Is(err, xerr.ErrInvalidUploadLength):
				xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidUploadLength, err.Error())
			case errors.Is(err, xerr.ErrFileTooLarge):
				xerr.Error(c, http.StatusRequestEntityTooLarge, xerr.CodeFileTooLarge, err.Error())
			case errors.Is(err, xerr.ErrSessionConflict):
				xerr.Error(c, http.StatusConflict, xerr.CodeSessionConflict, err.Error())
			default:
				xerr.Error(c, http.StatusInternalServerError, xerr.CodeInternalServerError, "Failed to create upload session")
			}
			return
		}

		location := fmt.Sprintf("/api/v1/uploads/%s", result.UploadID)
		c.Header("Location", location)
		c.Header("Upload-Offset", strconv.FormatInt(result.Offset, 10))
		setExpiresHeader(c, result.ExpiresAt)

		status := http.StatusCreated
		message := "Upload session created"
		if !result.Created {
			status = http.StatusOK
			message = "Upload session resumed"
		}
		xerr.Success(c, status, message, gin.H{
			"upload_id":  result.UploadID,
			"location":   location,
			"offset":     result.Offset,
			"expires_at": result.ExpiresAt,
			"completed":  result.Completed,
		})
	}
}

// UploadChunkHandler 追加下一个连续的字节块
// @Summary 上传数据块
// @Description 在 Upload-Offset 指定的偏移量处追加数据；偏移量不一致时返回 409 并携带服务端偏移量
// @Tags 断点续传
// @Accept octet-stream
// @Produce json
// @Security BearerAuth
// @Param uploadID path string true "会话标识"
// @Param Upload-Offset header int true "客户端声明的当前偏移量"
// @Success 200 {object} xerr.Response "数据块已接受"
// @Failure 404 {object} xerr.Response "会话不存在"
// @Failure 409 {object} xerr.Response "偏移量不一致"
// @Failure 500 {object} xerr.Response "存储或收尾失败，可重试"
// @Router /api/v1/uploads/{uploadID} [patch]
func UploadChunkHandler(registry *uploader.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIDFromContext(c); !ok {
			return
		}
		uploadID := c.Param("uploadID")

		offsetStr := c.GetHeader("Upload-Offset")
		if offsetStr == "" {
			xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidOffset, "Upload-Offset header is required")
			return
		}
		offset, err := strconv.ParseInt(offsetStr, 10, 64)
		if err != nil || offset < 0 {
			xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidOffset, "Invalid Upload-Offset header")
			return
		}

		chunkSize := c.Request.ContentLength
		if chunkSize < 0 {
			xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidParams, "Content-Length is required")
			return
		}

		result, err := registry.Actor(uploadID).UploadPart(c.Request.Context(), offset, c.Request.Body, chunkSize)
		if err != nil {
			var offsetErr *uploader.OffsetError
			switch {
			case errors.As(err, &offsetErr):
				// 把服务端权威偏移量带回去，客户端据此重发
				c.Header("Upload-Offset", strconv.FormatInt(offsetErr.ServerOffset, 10))
				xerr.Error(c, http.StatusConflict, xerr.CodeOffsetMismatch, err.Error())
			case errors.Is(err, xerr.ErrUploadSessionNotFound):
				xerr.Error(c, http.StatusNotFound, xerr.CodeUploadSessionNotFound, err.Error())
			case errors.Is(err, xerr.ErrInvalidParams):
				xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidParams, err.Error())
			case errors.Is(err, xerr.ErrCompletionFailed):
				xerr.Error(c, http.StatusInternalServerError, xerr.CodeCompletionFailed, err.Error())
			default:
				xerr.Error(c, http.StatusInternalServerError, xerr.CodeStorageError, "Failed to accept chunk")
			}
			return
		}

		c.Header("Upload-Offset", strconv.FormatInt(result.Offset, 10))
		xerr.Success(c, http.StatusOK, "Chunk accepted", gin.H{
			"offset":    result.Offset,
			"completed": result.Completed,
		})
	}
}

// StatusUploadHandler 查询会话进度
// @Summary 查询上传进度
// @Description 返回会话当前偏移量、总长度、过期时间和完成标记
// @Tags 断点续传
// @Produce json
// @Security BearerAuth
// @Param uploadID path string true "会话标识"
// @Success 200 {object} xerr.Response "会话状态"
// @Failure 404 {object} xerr.Response "会话不存在"
// @Router /api/v1/uploads/{uploadID} [head]
func StatusUploadHandler(registry *uploader.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIDFromContext(c); !ok {
			return
		}
		uploadID := c.Param("uploadID")

		status, expiresAt, err := registry.Actor(uploadID).Status(c.Request.Context())
		if err != nil {
			if errors.Is(err, xerr.ErrUploadSessionNotFound) {
				c.Status(http.StatusNotFound)
				return
			}
			c.Status(http.StatusInternalServerError)
			return
		}

		c.Header("Upload-Offset", strconv.FormatInt(status.Offset, 10))
		c.Header("Upload-Length", strconv.FormatInt(status.TotalSize, 10))
		if len(status.Metadata) > 0 {
			c.Header("Upload-Metadata", utils.SerializeUploadMetadata(status.Metadata))
		}
		setExpiresHeader(c, expiresAt)
		c.Header("Cache-Control", "no-store")
		c.Status(http.StatusOK)
	}
}

// CancelUploadHandler 取消会话
// @Summary 取消上传
// @Description 中止会话对应的分块上传并清除状态，对不存在的会话也返回成功
// @Tags 断点续传
// @Produce json
// @Security BearerAuth
// @Param uploadID path string true "会话标识"
// @Success 204 "会话已清除"
// @Router /api/v1/uploads/{uploadID} [delete]
func CancelUploadHandler(registry *uploader.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIDFromContext(c); !ok {
			return
		}
		uploadID := c.Param("uploadID")

		if err := registry.Actor(uploadID).Delete(c.Request.Context()); err != nil {
			xerr.Error(c, http.StatusInternalServerError, xerr.CodeInternalServerError, "Failed to cancel upload")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func bucketNameFromConfig(cfg *config.Config) string {
	switch cfg.Storage.Type {
	case "aliyun_oss":
		return cfg.AliyunOSS.BucketName
	default:
		return cfg.MinIO.BucketName
	}
}
