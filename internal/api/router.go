package api

import (
	"github.com/gin-gonic/gin"
	"github.com/wfunc/pinball/internal/middleware"
	"github.com/wfunc/pinball/internal/service"
	"github.com/wfunc/pinball/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Router API路由器
type Router struct {
	engine         *gin.Engine
	db             *gorm.DB
	authHandler    *AuthHandler
	machineHandler *MachineHandler
	wsHandler      *WebSocketHandler
	authMiddleware *middleware.AuthMiddleware
	log            *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(db *gorm.DB, authService service.AuthService,
	machineService *service.MachineService, hub *websocket.Hub, log *zap.Logger) *Router {
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	router := &Router{
		engine:         engine,
		db:             db,
		authHandler:    NewAuthHandler(authService),
		machineHandler: NewMachineHandler(machineService),
		wsHandler:      NewWebSocketHandler(hub, log),
		authMiddleware: middleware.NewAuthMiddleware(authService),
		log:            log,
	}

	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 认证相关路由（不需要认证）
		auth := v1.Group("/auth")
		{
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/refresh", r.authHandler.RefreshToken)

			authRequired := auth.Group("")
			authRequired.Use(r.authMiddleware.RequireAuth())
			{
				authRequired.PUT("/password", r.authHandler.ChangePassword)
			}
		}

		// 机台状态查询（任意已登录角色）
		machine := v1.Group("/machine")
		machine.Use(r.authMiddleware.RequireAuth())
		{
			machine.GET("/status", r.machineHandler.Status)
			machine.GET("/devices", r.machineHandler.Devices)
			machine.GET("/devices/:name", r.machineHandler.Device)
			machine.GET("/events", r.machineHandler.Events)
		}

		// 机台操作（技师和管理员）
		ops := v1.Group("/machine")
		ops.Use(r.authMiddleware.RequireRole("admin", "technician"))
		{
			ops.POST("/devices/:name/reset", r.machineHandler.ResetDevice)
			ops.POST("/collect", r.machineHandler.CollectBalls)
			ops.POST("/start-game", r.machineHandler.RequestToStartGame)
			ops.POST("/playfields/:name/ball-search/block", r.machineHandler.BlockBallSearch)
			ops.POST("/playfields/:name/ball-search/unblock", r.machineHandler.UnblockBallSearch)
		}
	}

	// WebSocket监控流
	ws := r.engine.Group("/ws")
	ws.Use(r.authMiddleware.RequireAuth())
	{
		ws.GET("/monitor", r.wsHandler.Monitor)
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	sqlDB, err := r.db.DB()
	if err != nil {
		c.JSON(500, gin.H{
			"status":  "unhealthy",
			"message": "数据库连接失败",
		})
		return
	}

	if err := sqlDB.Ping(); err != nil {
		c.JSON(500, gin.H{
			"status":  "unhealthy",
			"message": "数据库ping失败",
		})
		return
	}

	c.JSON(200, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
	})
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("API服务启动", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试和外部托管）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
