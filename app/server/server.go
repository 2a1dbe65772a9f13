package server

import (
	"context"
	"net/http"

	"rename-fusion/app/config"
	"rename-fusion/app/database"
	"rename-fusion/app/handler"
	"rename-fusion/app/logger"
	"rename-fusion/app/matcher"
	"rename-fusion/app/middleware"
	"rename-fusion/app/parser"
	"rename-fusion/app/service"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server

	batchService    *service.BatchService
	executeService  *service.ExecuteService
	rollbackService *service.RollbackService
	workflowService *service.WorkflowService
	tokenRefresh    *service.TokenRefreshService
	cleanupService  *service.CleanupService
}

// New 创建一个新的 Server 实例，装配解析、匹配与执行链路
func New(cfg *config.Config, log *logger.Logger) *Server {
	router := gin.Default()

	// 没配置 AI 接口时 ai 系算法退化为规则解析
	var assisted parser.AssistedParser
	if aiClient := parser.NewAIClient(cfg.AI, log); aiClient.IsConfigured() {
		assisted = aiClient
	}
	pipeline := parser.NewPipeline(cfg.Rename, assisted, log)

	catalog := matcher.NewTMDBClient(cfg.TMDB, log)
	match := matcher.NewMatcher(cfg.Rename, catalog, log)

	backends := service.NewBackendFactory(cfg.Rename, log)
	batchSvc := service.NewBatchService(cfg.Rename, pipeline, match, backends, log)
	execSvc := service.NewExecuteService(cfg.Rename, backends, log)
	rollbackSvc := service.NewRollbackService(cfg.Rename, backends, log)
	workflowSvc := service.NewWorkflowService(cfg.Rename, batchSvc, execSvc, log)
	tokenRefresh := service.NewTokenRefreshService(backends, log)

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:          cfg,
		Logger:          log,
		batchService:    batchSvc,
		executeService:  execSvc,
		rollbackService: rollbackSvc,
		workflowService: workflowSvc,
		tokenRefresh:    tokenRefresh,
		cleanupService:  service.NewCleanupService(cfg.Rename, log),
	}

	s.setupRoutes()

	return s
}

// Start 启动服务器
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)

	s.tokenRefresh.Start()
	if err := s.cleanupService.Start(); err != nil {
		s.Logger.Errorf("启动清理服务失败: %v", err)
	}

	return s.http.ListenAndServe()
}

// Shutdown 优雅关闭：先停后台服务，再关数据库和HTTP
func (s *Server) Shutdown(ctx context.Context) error {
	s.workflowService.Stop()
	s.tokenRefresh.Stop()
	s.cleanupService.Stop()

	if err := database.Close(); err != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", err)
	}
	return s.http.Shutdown(ctx)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	authHandler := handler.NewAuthHandler(s.Config)
	cloudStorageHandler := handler.NewCloudStorageHandler(s.tokenRefresh)
	renameHandler := handler.NewRenameHandler(s.batchService, s.executeService, s.rollbackService)
	workflowHandler := handler.NewWorkflowHandler(s.workflowService)

	api := s.gin.Group("/api")

	// 认证相关路由（不需要JWT验证）
	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.RefreshToken)
	}

	// 需要JWT验证的路由
	protected := api.Group("/")
	protected.Use(middleware.JWTAuth(s.Config))
	{
		protected.GET("/me", authHandler.Me)

		// 网盘存储相关路由
		storage := protected.Group("/cloud-storage")
		{
			storage.POST("/", cloudStorageHandler.CreateCloudStorage)
			storage.GET("/", cloudStorageHandler.GetCloudStorages)
			storage.GET("/:id", cloudStorageHandler.GetCloudStorage)
			storage.PUT("/:id", cloudStorageHandler.UpdateCloudStorage)
			storage.DELETE("/:id", cloudStorageHandler.DeleteCloudStorage)
			storage.POST("/:id/refresh", cloudStorageHandler.RefreshStorageToken)
		}

		// 智能重命名相关路由
		rename := protected.Group("/rename")
		{
			rename.POST("/preview", renameHandler.CreatePreview)
			rename.GET("/batches", renameHandler.ListBatches)
			rename.GET("/batches/:batchId", renameHandler.GetBatch)
			rename.GET("/batches/:batchId/items", renameHandler.ListBatchItems)
			rename.POST("/batches/:batchId/confirm", renameHandler.ConfirmItems)
			rename.PUT("/batches/:batchId/items/:itemId", renameHandler.EditItem)
			rename.POST("/batches/:batchId/execute", renameHandler.Execute)
			rename.POST("/batches/:batchId/rollback", renameHandler.Rollback)
			rename.POST("/validate-name", renameHandler.ValidateName)

			// 网盘模式后台任务
			rename.POST("/tasks", workflowHandler.SubmitTask)
			rename.GET("/tasks/:taskId", workflowHandler.GetTask)
			rename.POST("/tasks/:taskId/cancel", workflowHandler.CancelTask)
		}
	}
}
