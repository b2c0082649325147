package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/core/engine"
	"github.com/LENAX/flow-control/pkg/core/lifecycle"
)

// InstanceHandler Instance API处理器
type InstanceHandler struct {
	cp *engine.ControlPlane
}

// NewInstanceHandler 创建InstanceHandler
func NewInstanceHandler(cp *engine.ControlPlane) *InstanceHandler {
	return &InstanceHandler{cp: cp}
}

// List 列出实例
// GET /api/v1/instances
func (h *InstanceHandler) List(c *gin.Context) {
	var query dto.InstanceQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err)
		return
	}

	instances := h.cp.Lifecycle().ListInstances(lifecycle.ListFilter{
		Status:     lifecycle.Status(query.Status),
		WorkflowID: query.WorkflowID,
	})
	summaries := make([]dto.InstanceSummary, 0, len(instances))
	for _, inst := range instances {
		summaries = append(summaries, toSummary(inst))
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.Paginate(summaries, query.Offset, query.GetDefaultLimit())))
}

// Get 获取实例详情
// GET /api/v1/instances/:id
func (h *InstanceHandler) Get(c *gin.Context) {
	inst, err := h.cp.Lifecycle().GetInstance(c.Param("id"))
	if err != nil {
		respondError(c, "查询实例失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(inst))
}

// Pause 暂停实例
// POST /api/v1/instances/:id/pause
func (h *InstanceHandler) Pause(c *gin.Context) {
	id := c.Param("id")
	if err := h.cp.Lifecycle().PauseWorkflow(c.Request.Context(), id); err != nil {
		respondError(c, "暂停实例失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"instanceId": id,
		"status":     string(lifecycle.StatusPaused),
	}))
}

// Resume 恢复实例
// POST /api/v1/instances/:id/resume
func (h *InstanceHandler) Resume(c *gin.Context) {
	id := c.Param("id")
	if err := h.cp.Lifecycle().ResumeWorkflow(c.Request.Context(), id); err != nil {
		respondError(c, "恢复实例失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"instanceId": id,
		"status":     string(lifecycle.StatusRunning),
	}))
}

// Cancel 取消实例
// POST /api/v1/instances/:id/cancel
func (h *InstanceHandler) Cancel(c *gin.Context) {
	var req dto.CancelInstanceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled via api"
	}

	id := c.Param("id")
	if err := h.cp.Lifecycle().CancelWorkflow(c.Request.Context(), id, req.Reason); err != nil {
		respondError(c, "取消实例失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"instanceId": id,
		"status":     string(lifecycle.StatusCancelled),
	}))
}

// UpdateResources 上报资源占用
// PUT /api/v1/instances/:id/resources
func (h *InstanceHandler) UpdateResources(c *gin.Context) {
	var req dto.ResourceUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	usage := lifecycle.ResourceUsage{
		MemoryMB:   req.MemoryMB,
		CPUPercent: req.CPUPercent,
		DiskMB:     req.DiskMB,
	}
	if err := h.cp.Lifecycle().UpdateResourceUsage(c.Request.Context(), c.Param("id"), usage); err != nil {
		respondError(c, "更新资源占用失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(usage))
}

// Dependents 依赖已全部满足、可以启动的下游实例
// GET /api/v1/instances/:id/dependents/ready
func (h *InstanceHandler) Dependents(c *gin.Context) {
	ids, err := h.cp.Lifecycle().ReadyDependents(c.Param("id"))
	if err != nil {
		respondError(c, "查询下游实例失败", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(ids))
}

func toSummary(inst *lifecycle.WorkflowInstance) dto.InstanceSummary {
	summary := dto.InstanceSummary{
		ID:           inst.ID,
		WorkflowID:   inst.WorkflowID,
		Version:      inst.Version,
		Status:       string(inst.Status),
		Priority:     string(inst.Priority),
		CreatedAt:    inst.CreatedAt,
		StartedAt:    inst.StartedAt,
		CompletedAt:  inst.CompletedAt,
		ErrorMessage: inst.Error,
	}
	if d, ok := inst.ExecutionTime(); ok {
		summary.Duration = formatDuration(d)
	}
	return summary
}
