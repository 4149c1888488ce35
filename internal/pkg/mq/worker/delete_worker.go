package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/3Eeeecho/go-fileshare/internal/models"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/mq"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/search"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/storage"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-fileshare/internal/repositories"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const DeleteQueueName = "file_delete_queue"

// DeleteWorker 消费删除队列，清理对象存储、数据库记录和搜索索引
type DeleteWorker struct {
	mqClient       mq.MessageQueue
	fileRepo       repositories.FileRepository
	storageService storage.StorageService
	indexer        search.Indexer // 可以为 nil，表示未启用搜索
}

func NewDeleteWorker(
	mqClient mq.MessageQueue,
	fileRepo repositories.FileRepository,
	storageService storage.StorageService,
	indexer search.Indexer,
) *DeleteWorker {
	return &DeleteWorker{
		mqClient:       mqClient,
		fileRepo:       fileRepo,
		storageService: storageService,
		indexer:        indexer,
	}
}

func (w *DeleteWorker) Start() {
	_, err := w.mqClient.DeclareQueue(DeleteQueueName)
	if err != nil {
		log.Fatalf("Failed to declare queue: %s", err)
	}
	err = w.mqClient.Consume(DeleteQueueName, w.HandleDelete)
	if err != nil {
		log.Fatalf("Failed to start consuming from queue: %s", err)
	}

	log.Println("Delete worker started...")
}

// HandleDelete 处理一条删除任务
// 先删对象存储，再删数据库记录：任何一步失败消息重新入队，
// 两步都是幂等的，重复投递不会出错。
func (w *DeleteWorker) HandleDelete(msg amqp.Delivery) {
	var task models.DeleteFileTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		logger.Error("Failed to unmarshal delete task", zap.Error(err))
		_ = msg.Nack(false, false) // 解析失败,直接抛弃
		return
	}

	logger.Info("Received file deletion task", zap.Uint64("FileID", task.FileID), zap.String("uuid", task.UUID))

	ctx := context.Background()

	// 1. 删除物理文件，RemoveObject 对不存在的对象也返回成功
	if err := w.storageService.RemoveObject(ctx, task.OssBucket, task.OssKey); err != nil {
		logger.Error("Failed to delete file from storage", zap.String("OssKey", task.OssKey), zap.Error(err))
		_ = msg.Nack(false, true) // 重新入队
		return
	}

	// 2. 删除数据库记录
	if err := w.fileRepo.PermanentDelete(ctx, task.FileID); err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			// 记录已被删除，继续清理索引
			logger.Info("File record already removed", zap.Uint64("FileID", task.FileID))
		} else {
			logger.Error("Failed to delete file record", zap.Uint64("FileID", task.FileID), zap.Error(err))
			_ = msg.Nack(false, true)
			return
		}
	}

	// 3. 清理搜索索引，失败只记录不阻塞（索引可以重建）
	if w.indexer != nil {
		if err := w.indexer.DeleteFile(ctx, task.UUID); err != nil {
			logger.Error("Failed to delete file from search index (need manual cleanup)",
				zap.String("uuid", task.UUID), zap.Error(err))
		}
	}

	logger.Info("Successfully processed file deletion task", zap.Uint64("FileID", task.FileID))
	_ = msg.Ack(false)
}
