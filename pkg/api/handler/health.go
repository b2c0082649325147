package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/core/engine"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	cp        *engine.ControlPlane
	version   string
	startTime time.Time
}

// NewHealthHandler 创建HealthHandler
func NewHealthHandler(cp *engine.ControlPlane, version string) *HealthHandler {
	return &HealthHandler{
		cp:        cp,
		version:   version,
		startTime: time.Now(),
	}
}

// Health 健康检查
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	uptime := time.Since(h.startTime)

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    formatDuration(uptime),
		Timestamp: time.Now().Format(time.RFC3339),
	}))
}

// Ready 就绪检查，控制面未启动或存储不可用时返回503
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.cp == nil || !h.cp.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(503, "not ready"))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cp.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(503, "storage unavailable: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"status": "ready",
	}))
}

// Stats 控制面统计
// GET /api/v1/stats
func (h *HealthHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.cp.Statistics()))
}
