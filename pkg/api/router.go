package api

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/api/handler"
	"github.com/LENAX/flow-control/pkg/api/middleware"
	"github.com/LENAX/flow-control/pkg/core/engine"
)

// AdminRole 管理类接口要求的角色
const AdminRole = "admin"

// SetupRouter 设置路由
func SetupRouter(cp *engine.ControlPlane, tokens *middleware.TokenManager, logger watermill.LoggerAdapter, version string) *gin.Engine {
	router := gin.New()

	// 全局中间件
	// Logger 在外层，Recovery 写入的500与panic错误会出现在请求日志里
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS())

	// 创建handlers
	healthHandler := handler.NewHealthHandler(cp, version)
	authHandler := handler.NewAuthHandler(cp, tokens)
	workflowHandler := handler.NewWorkflowHandler(cp)
	instanceHandler := handler.NewInstanceHandler(cp)
	scheduleHandler := handler.NewScheduleHandler(cp)
	configHandler := handler.NewConfigHandler(cp)
	securityHandler := handler.NewSecurityHandler(cp)
	eventHandler := handler.NewEventHandler(cp, logger)

	// 健康检查路由（不带前缀）
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", authHandler.Login)

	authed := v1.Group("", middleware.RequireAuth(tokens))
	admin := middleware.RequireRole(tokens, AdminRole)
	{
		authed.GET("/stats", healthHandler.Stats)
		authed.GET("/events/stream", eventHandler.Stream)

		authed.POST("/workflows/:id/versions/:version/execute", workflowHandler.Execute)

		instances := authed.Group("/instances")
		{
			instances.GET("", instanceHandler.List)
			instances.GET("/:id", instanceHandler.Get)
			instances.GET("/:id/dependents/ready", instanceHandler.Dependents)
			instances.POST("/:id/pause", instanceHandler.Pause)
			instances.POST("/:id/resume", instanceHandler.Resume)
			instances.POST("/:id/cancel", instanceHandler.Cancel)
			instances.PUT("/:id/resources", instanceHandler.UpdateResources)
		}

		schedules := authed.Group("/schedules")
		{
			schedules.GET("", scheduleHandler.List)
			schedules.GET("/:id", scheduleHandler.Get)
			schedules.POST("/reload", admin, scheduleHandler.Reload)
			schedules.POST("/:id/start", admin, scheduleHandler.Start)
			schedules.POST("/:id/stop", admin, scheduleHandler.Stop)
			schedules.POST("/:id/trigger", scheduleHandler.Trigger)
		}

		configs := authed.Group("/configs")
		{
			configs.GET("", configHandler.List)
			configs.GET("/export", configHandler.Export)
			configs.POST("/import", admin, configHandler.Import)
			configs.POST("", admin, configHandler.Create)
			configs.GET("/:id/versions/:version", configHandler.Get)
			configs.PUT("/:id/versions/:version", admin, configHandler.Update)
			configs.DELETE("/:id/versions/:version", admin, configHandler.Delete)
			configs.GET("/:id/versions/:version/backups", configHandler.Backups)
		}

		sec := authed.Group("/security")
		{
			sec.POST("/validate", securityHandler.Validate)
			sec.GET("/stats", admin, securityHandler.Statistics)
			sec.GET("/users", admin, securityHandler.ListUsers)
			sec.GET("/users/:id", admin, securityHandler.GetUser)
			sec.PUT("/users", admin, securityHandler.PutUser)
			sec.DELETE("/users/:id", admin, securityHandler.DeleteUser)
			sec.GET("/permissions", securityHandler.ListPermissions)
			sec.GET("/permissions/:id/versions/:version", securityHandler.GetPermission)
			sec.PUT("/permissions", admin, securityHandler.PutPermission)
			sec.DELETE("/permissions/:id/versions/:version", admin, securityHandler.DeletePermission)
			sec.GET("/audit", admin, securityHandler.Audit)
			sec.GET("/events", admin, securityHandler.Events)
			sec.POST("/events/:id/resolve", admin, securityHandler.ResolveEvent)
		}
	}

	return router
}
