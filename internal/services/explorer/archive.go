package explorer

import (
	"context"
	"fmt"
	"io"

	"github.com/3Eeeecho/go-fileshare/internal/models"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// DownloadArchive 把多个文件打包成一个 ZIP 流返回
// 使用 pipe 实现流式压缩，不在内存或磁盘上缓冲整个包。
// 单个文件读取失败会在 ZIP 中跳过，不中断整个归档。
func (s *fileService) DownloadArchive(ctx context.Context, userID uint64, fileUUIDs []string) (io.ReadCloser, error) {
	if len(fileUUIDs) == 0 {
		return nil, fmt.Errorf("file service: 归档列表为空")
	}

	// 先完成全部归属校验，再开始写流
	files := make([]fileEntry, 0, len(fileUUIDs))
	seen := make(map[string]int)
	for _, fileUUID := range fileUUIDs {
		file, err := s.checkFile(ctx, userID, fileUUID)
		if err != nil {
			return nil, err
		}
		name := file.FileName
		// 同名文件加序号后缀，避免 ZIP 内部条目冲突
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("(%d) %s", n, name)
		} else {
			seen[name] = 1
		}
		files = append(files, fileEntry{file: file, entryName: name})
	}

	pr, pw := io.Pipe()
	go func() {
		zipWriter := zip.NewWriter(pw)

		for _, entry := range files {
			if entry.file.OssKey == nil || *entry.file.OssKey == "" {
				logger.Warn("DownloadArchive: 文件记录缺少存储键,在 ZIP 中跳过",
					zap.String("uuid", entry.file.UUID),
					zap.String("fileName", entry.file.FileName))
				continue
			}

			func() {
				reader, err := s.getFileContentReader(ctx, entry.file)
				if err != nil {
					logger.Error("DownloadArchive: 获取文件内容读取器失败",
						zap.String("uuid", entry.file.UUID),
						zap.Error(err))
					return
				}
				defer reader.Close()

				header := &zip.FileHeader{
					Name:     entry.entryName,
					Method:   zip.Deflate,
					Modified: entry.file.UpdatedAt,
				}
				if entry.file.Size > 0 {
					header.UncompressedSize64 = entry.file.Size
				}

				writer, err := zipWriter.CreateHeader(header)
				if err != nil {
					pw.CloseWithError(fmt.Errorf("为 %s 创建 ZIP 头失败: %w", entry.entryName, err))
					return
				}
				if _, err := io.Copy(writer, reader); err != nil {
					pw.CloseWithError(fmt.Errorf("复制 %s 内容到 ZIP 失败: %w", entry.entryName, err))
					return
				}
			}()
		}

		if err := zipWriter.Close(); err != nil {
			pw.CloseWithError(fmt.Errorf("failed to close zip writer: %w", err))
			return
		}
		pw.Close()
		logger.Info("DownloadArchive: ZIP stream finished",
			zap.Uint64("userID", userID), zap.Int("files", len(files)))
	}()

	return pr, nil
}

type fileEntry struct {
	file      *models.File
	entryName string
}
