package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/3Eeeecho/go-fileshare/internal/config"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/cache"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/mq"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/mq/worker"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/search"
	"github.com/3Eeeecho/go-fileshare/internal/repositories"
	"github.com/3Eeeecho/go-fileshare/internal/router"
	"github.com/3Eeeecho/go-fileshare/internal/services/explorer"
	"github.com/3Eeeecho/go-fileshare/internal/services/uploader"
	"github.com/3Eeeecho/go-fileshare/internal/setup"
)

type Server struct {
	router         *gin.Engine
	httpServer     *http.Server
	db             *gorm.DB
	redisClient    *redis.Client
	rabbitMQClient *mq.RabbitMQClient
	expirerCancel  context.CancelFunc
}

// NewServer 负责构建所有依赖
func NewServer(cfg *config.Config) (*Server, error) {
	// 初始化数据库连接
	mysqlDB, err := setup.InitMySQL(&cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MySQL: %w", err)
	}

	// 初始化 Redis 连接
	redisClient, err := setup.InitRedis(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	// 初始化对象存储并确保存储桶可用
	storageService, err := setup.InitStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// 初始化 Elasticsearch（可选，未配置时搜索功能降级）
	esClient, err := setup.InitElasticsearchClient(&cfg.Elasticsearch)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Elasticsearch: %w", err)
	}
	var indexer search.Indexer
	if esClient != nil {
		indexer = search.NewIndexer(esClient, cfg.Elasticsearch.FilesIndex)
	}

	// 初始化 RabbitMQ
	rabbitMQClient, err := mq.NewRabbitMQClient(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	// 初始化 Repositories
	redisCache := cache.NewRedisCache(redisClient)
	fileRepo := repositories.NewFileRepository(mysqlDB, redisCache)

	// 初始化 Services
	registry := uploader.NewRegistry(redisCache, storageService, fileRepo, indexer, uploader.Config{
		MaxUploadSize: cfg.Upload.MaxUploadSize,
		SessionTTL:    cfg.Upload.SessionTTL,
	})
	fileService := explorer.NewFileService(fileRepo, storageService, rabbitMQClient, indexer, cfg)

	// 启动过期会话清扫器
	expirerCtx, expirerCancel := context.WithCancel(context.Background())
	expirer := uploader.NewExpirer(redisCache, registry, cfg.Upload.SweepInterval)
	go expirer.Start(expirerCtx)

	// 启动所有后台 Worker
	worker.StartAllWorkers(rabbitMQClient, fileRepo, storageService, indexer)

	// 初始化 Gin 引擎和注册路由
	// 将所有依赖传入 RouterConfig
	engine := router.InitRouter(router.NewRouterConfig(mysqlDB, registry, fileService, cfg))

	// 启动 HTTP 服务器
	addr := ":" + cfg.Server.Port
	logger.Info(fmt.Sprintf("Server is running on %s", cfg.Server.Port))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	return &Server{
		router:         engine,
		httpServer:     httpServer,
		db:             mysqlDB,
		redisClient:    redisClient,
		rabbitMQClient: rabbitMQClient,
		expirerCancel:  expirerCancel,
	}, nil
}

// Run 启动服务器和 Worker，并处理优雅关机
func (s *Server) Run(ctx context.Context, stopChan chan os.Signal) {
	// 确保在应用关闭时，所有连接都被释放
	// GORM v2 依赖连接池，通常不需要手动关闭。Redis和MQ需要
	defer s.rabbitMQClient.Close()
	defer s.redisClient.Close()
	defer s.expirerCancel()

	// 启动 HTTP 服务器
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// 等待停止信号
	<-stopChan
	logger.Info("Shutting down server...")

	// 优雅关机
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited gracefully")
}
