package worker

import (
	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/mq"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/search"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/storage"
	"github.com/3Eeeecho/go-fileshare/internal/repositories"
)

// StartAllWorkers 启动应用中所有定义的后台 Worker
func StartAllWorkers(
	mqClient mq.MessageQueue,
	fileRepo repositories.FileRepository,
	storageService storage.StorageService,
	indexer search.Indexer,
) {
	// --- 启动文件删除 Worker ---
	deleteWorker := NewDeleteWorker(mqClient, fileRepo, storageService, indexer)
	go deleteWorker.Start()

	// --- 在这里启动其他 Worker ---

	logger.Info("所有后台工作进程已启动。")
}
