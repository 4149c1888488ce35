package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/utils"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-fileshare/internal/services/explorer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ArchiveRequest 批量打包下载请求体
type ArchiveRequest struct {
	UUIDs []string `json:"uuids" binding:"required,min=1"`
}

// ListFilesHandler 列出当前用户的全部文件
// @Summary 文件列表
// @Description 列出当前用户所有状态正常的文件
// @Tags 文件
// @Produce json
// @Security BearerAuth
// @Success 200 {object} xerr.Response "文件列表"
// @Router /api/v1/files [get]
func ListFilesHandler(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		currentUserID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		files, err := fileService.ListUserFiles(c.Request.Context(), currentUserID)
		if err != nil {
			xerr.Error(c, http.StatusInternalServerError, xerr.CodeDatabaseError, "Failed to list files")
			return
		}
		xerr.Success(c, http.StatusOK, "Files listed successfully", files)
	}
}

// GetFileHandler 获取单个文件的元数据
// @Summary 文件详情
// @Tags 文件
// @Produce json
// @Security BearerAuth
// @Param uuid path string true "文件标识"
// @Success 200 {object} xerr.Response "文件详情"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Router /api/v1/files/{uuid} [get]
func GetFileHandler(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		currentUserID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		file, err := fileService.GetFileByUUID(c.Request.Context(), currentUserID, c.Param("uuid"))
		if err != nil {
			if errors.Is(err, xerr.ErrFileNotFound) {
				xerr.Error(c, http.StatusNotFound, xerr.CodeFileNotFound, err.Error())
				return
			}
			xerr.Error(c, http.StatusInternalServerError, xerr.CodeInternalServerError, "Failed to get file")
			return
		}
		xerr.Success(c, http.StatusOK, "File retrieved successfully", file)
	}
}

// DirectUploadHandler 小文件单次上传
// @Summary 直传文件
// @Description 通过 multipart 表单一次性上传小文件，大文件请使用断点续传接口
// @Tags 文件
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "文件内容"
// @Success 200 {object} xerr.Response "上传成功"
// @Failure 400 {object} xerr.Response "参数错误"
// @Failure 413 {object} xerr.Response "超出大小限制"
// @Router /api/v1/files [post]
func DirectUploadHandler(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		currentUserID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidParams, "File not found in form")
			return
		}

		content, err := fileHeader.Open()
		if err != nil {
			xerr.Error(c, http.StatusInternalServerError, xerr.CodeInternalServerError, "Failed to open uploaded file")
			return
		}
		defer content.Close()

		file, err := fileService.DirectUpload(
			c.Request.Context(),
			currentUserID,
			fileHeader.Filename,
			fileHeader.Header.Get("Content-Type"),
			fileHeader.Size,
			content,
		)
		if err != nil {
			switch {
			case errors.Is(err, xerr.ErrFileTooLarge):
				xerr.Error(c, http.StatusRequestEntityTooLarge, xerr.CodeFileTooLarge, err.Error())
			case errors.Is(err, xerr.ErrFileNameMissing), errors.Is(err, xerr.ErrInvalidUploadLength):
				xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidParams, err.Error())
			default:
				xerr.Error(c, http.StatusInternalServerError, xerr.CodeInternalServerError, "Failed to upload file")
			}
			return
		}
		xerr.Success(c, http.StatusOK, "File uploaded successfully", file)
	}
}

// DownloadFileHandler 下载文件内容
// @Summary 下载文件
// @Tags 文件
// @Produce octet-stream
// @Security BearerAuth
// @Param uuid path string true "文件标识"
// @Success 200 {file} binary "文件内容"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Router /api/v1/files/{uuid}/download [get]
func DownloadFileHandler(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		currentUserID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		file, reader, err := fileService.Download(c.Request.Context(), currentUserID, c.Param("uuid"))
		if err != nil {
			if errors.Is(err, xerr.ErrFileNotFound) {
				xerr.Error(c, http.StatusNotFound, xerr.CodeFileNotFound, err.Error())
				return
			}
			xerr.Error(c, http.StatusInternalServerError, xerr.CodeStorageError, "Failed to download file")
			return
		}
		defer reader.Close()

		encodedFileName := url.PathEscape(file.FileName)
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, encodedFileName, encodedFileName))
		contentType := "application/octet-stream"
		if file.MimeType != nil && *file.MimeType != "" {
			contentType = *file.MimeType
		}
		c.Header("Content-Type", contentType)

		if _, err := io.Copy(c.Writer, reader); err != nil {
			logger.Error("DownloadFileHandler: 流式传输文件内容失败", zap.String("uuid", file.UUID), zap.Error(err))
		}
	}
}

// PresignDownloadHandler 生成下载用预签名URL
// @Summary 获取下载链接
// @Description 返回一个限时有效的预签名下载URL
// @Tags 文件
// @Produce json
// @Security BearerAuth
// @Param uuid path string true "文件标识"
// @Success 200 {object} xerr.Response "预签名URL"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Router /api/v1/files/{uuid}/url [get]
func PresignDownloadHandler(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		currentUserID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		presignedURL, err := fileService.GetPresignedURLForDownload(c.Request.Context(), currentUserID, c.Param("uuid"))
		if err != nil {
			if errors.Is(err, xerr.ErrFileNotFound) {
				xerr.Error(c, http.StatusNotFound, xerr.CodeFileNotFound, err.Error())
				return
			}
			xerr.Error(c, http.StatusInternalServerError, xerr.CodeStorageError, "Failed to presign download URL")
			return
		}
		xerr.Success(c, http.StatusOK, "Presigned URL generated", gin.H{"url": presignedURL})
	}
}

// ArchiveDownloadHandler 批量打包下载
// @Summary 打包下载
// @Description 把多个文件打包成 ZIP 流式返回
// @Tags 文件
// @Accept json
// @Produce octet-stream
// @Security BearerAuth
// @Param data body ArchiveRequest true "文件标识列表"
// @Success 200 {file} binary "ZIP 压缩包"
// @Failure 404 {object} xerr.Response "存在无效的文件标识"
// @Router /api/v1/files/archive [post]
func ArchiveDownloadHandler(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		currentUserID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		var req ArchiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidParams, err.Error())
			return
		}

		reader, err := fileService.DownloadArchive(c.Request.Context(), currentUserID, req.UUIDs)
		if err != nil {
			if errors.Is(err, xerr.ErrFileNotFound) {
				xerr.Error(c, http.StatusNotFound, xerr.CodeFileNotFound, err.Error())
				return
			}
			xerr.Error(c, http.StatusInternalServerError, xerr.CodeInternalServerError, "Failed to build archive")
			return
		}
		defer reader.Close()

		c.Header("Content-Disposition", `attachment; filename="files.zip"`)
		c.Header("Content-Type", "application/zip")
		if _, err := io.Copy(c.Writer, reader); err != nil {
			logger.Error("ArchiveDownloadHandler: 流式传输ZIP内容失败", zap.Error(err))
		}
	}
}

// DeleteFileHandler 删除文件
// @Summary 删除文件
// @Description 标记文件为待删除并投递异步清理任务
// @Tags 文件
// @Produce json
// @Security BearerAuth
// @Param uuid path string true "文件标识"
// @Success 200 {object} xerr.Response "已进入删除队列"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Router /api/v1/files/{uuid} [delete]
func DeleteFileHandler(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		currentUserID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		if err := fileService.Delete(c.Request.Context(), currentUserID, c.Param("uuid")); err != nil {
			switch {
			case errors.Is(err, xerr.ErrFileNotFound):
				xerr.Error(c, http.StatusNotFound, xerr.CodeFileNotFound, err.Error())
			case errors.Is(err, xerr.ErrMQError):
				xerr.Error(c, http.StatusInternalServerError, xerr.CodeMQError, err.Error())
			default:
				xerr.Error(c, http.StatusInternalServerError, xerr.CodeInternalServerError, "Failed to delete file")
			}
			return
		}
		xerr.Success(c, http.StatusOK, "File queued for deletion", nil)
	}
}

// SearchFilesHandler 按文件名搜索
// @Summary 搜索文件
// @Description 在 Elasticsearch 索引中按文件名搜索当前用户的文件
// @Tags 文件
// @Produce json
// @Security BearerAuth
// @Param q query string true "关键词"
// @Success 200 {object} xerr.Response "搜索结果"
// @Router /api/v1/files/search [get]
func SearchFilesHandler(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		currentUserID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		keyword := c.Query("q")
		if keyword == "" {
			xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidParams, "query parameter 'q' is required")
			return
		}

		docs, err := fileService.Search(c.Request.Context(), currentUserID, keyword)
		if err != nil {
			xerr.Error(c, http.StatusInternalServerError, xerr.CodeInternalServerError, "Search failed")
			return
		}
		xerr.Success(c, http.StatusOK, "Search finished", docs)
	}
}
