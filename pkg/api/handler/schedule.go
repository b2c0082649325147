package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/core/engine"
)

// ScheduleHandler 定时计划API处理器
type ScheduleHandler struct {
	cp *engine.ControlPlane
}

// NewScheduleHandler 创建ScheduleHandler
func NewScheduleHandler(cp *engine.ControlPlane) *ScheduleHandler {
	return &ScheduleHandler{cp: cp}
}

// List 列出全部计划
// GET /api/v1/schedules
func (h *ScheduleHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.cp.Scheduler().ListSchedules()))
}

// Get 获取计划详情
// GET /api/v1/schedules/:id
func (h *ScheduleHandler) Get(c *gin.Context) {
	info, err := h.cp.Scheduler().GetSchedule(c.Param("id"))
	if err != nil {
		respondError(c, "查询计划失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(info))
}

// Start 装载计划
// POST /api/v1/schedules/:id/start
func (h *ScheduleHandler) Start(c *gin.Context) {
	h.action(c, "启动计划失败", h.cp.Scheduler().StartSchedule)
}

// Stop 卸载计划，进行中的执行不受影响
// POST /api/v1/schedules/:id/stop
func (h *ScheduleHandler) Stop(c *gin.Context) {
	h.action(c, "停止计划失败", h.cp.Scheduler().StopSchedule)
}

// Trigger 立即异步执行一次
// POST /api/v1/schedules/:id/trigger
func (h *ScheduleHandler) Trigger(c *gin.Context) {
	id := c.Param("id")
	if err := h.cp.Scheduler().TriggerNow(id); err != nil {
		respondError(c, "触发计划失败", err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(map[string]string{
		"scheduleId": id,
		"message":    "已触发",
	}))
}

// Reload 重新扫描描述文件目录
// POST /api/v1/schedules/reload
func (h *ScheduleHandler) Reload(c *gin.Context) {
	if err := h.cp.Scheduler().ReloadSchedules(c.Request.Context()); err != nil {
		respondError(c, "重新加载计划失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.cp.Scheduler().Statistics()))
}

func (h *ScheduleHandler) action(c *gin.Context, failure string, fn func(id string) error) {
	id := c.Param("id")
	if err := fn(id); err != nil {
		respondError(c, failure, err)
		return
	}
	info, err := h.cp.Scheduler().GetSchedule(id)
	if err != nil {
		respondError(c, failure, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(info))
}
