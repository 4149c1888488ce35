package router

import (
	"net/http"

	_ "github.com/3Eeeecho/go-fileshare/docs"
	"github.com/3Eeeecho/go-fileshare/internal/config"
	"github.com/3Eeeecho/go-fileshare/internal/handlers"
	"github.com/3Eeeecho/go-fileshare/internal/middlewares"
	"github.com/3Eeeecho/go-fileshare/internal/repositories"
	"github.com/3Eeeecho/go-fileshare/internal/services/admin"
	"github.com/3Eeeecho/go-fileshare/internal/services/explorer"
	"github.com/3Eeeecho/go-fileshare/internal/services/uploader"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

// RouterConfig 包含初始化路由所需的所有依赖
type RouterConfig struct {
	db          *gorm.DB
	registry    *uploader.Registry
	fileService explorer.FileService
	cfg         *config.Config
}

func NewRouterConfig(db *gorm.DB, registry *uploader.Registry, fileService explorer.FileService, cfg *config.Config) *RouterConfig {
	return &RouterConfig{
		db:          db,
		registry:    registry,
		fileService: fileService,
		cfg:         cfg,
	}
}

func InitRouter(routerCfg *RouterConfig) *gin.Engine {
	router := gin.Default() // 使用默认的 Gin 引擎，包含 Logger 和 Recovery 中间件

	// Health Check 路由
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	{
		// 认证相关路由 (无需认证)
		authGroup := v1.Group("/auth")
		{
			userRepo := repositories.NewUserRepository(routerCfg.db)
			authService := admin.NewAuthService(userRepo, routerCfg.cfg)

			authGroup.POST("/register", handlers.Register(authService))
			authGroup.POST("/login", handlers.Login(authService))
		}

		// 需要认证的路由组
		authenticated := v1.Group("/")
		authenticated.Use(middlewares.AuthMiddleware(routerCfg.cfg))

		// 断点续传会话路由
		uploadGroup := authenticated.Group("/uploads")
		{
			uploadGroup.POST("", handlers.CreateUploadHandler(routerCfg.registry, routerCfg.cfg))
			uploadGroup.PATCH("/:uploadID", handlers.UploadChunkHandler(routerCfg.registry))
			uploadGroup.HEAD("/:uploadID", handlers.StatusUploadHandler(routerCfg.registry))
			uploadGroup.DELETE("/:uploadID", handlers.CancelUploadHandler(routerCfg.registry))
		}

		// 文件相关路由
		fileGroup := authenticated.Group("/files")
		{
			fileGroup.GET("", handlers.ListFilesHandler(routerCfg.fileService))
			fileGroup.POST("", handlers.DirectUploadHandler(routerCfg.fileService))
			fileGroup.GET("/search", handlers.SearchFilesHandler(routerCfg.fileService))
			fileGroup.POST("/archive", handlers.ArchiveDownloadHandler(routerCfg.fileService))
			fileGroup.GET("/:uuid", handlers.GetFileHandler(routerCfg.fileService))
			fileGroup.GET("/:uuid/download", handlers.DownloadFileHandler(routerCfg.fileService))
			fileGroup.GET("/:uuid/url", handlers.PresignDownloadHandler(routerCfg.fileService))
			fileGroup.DELETE("/:uuid", handlers.DeleteFileHandler(routerCfg.fileService))
		}
	}

	return router
}
