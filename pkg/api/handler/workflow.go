package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/api/middleware"
	"github.com/LENAX/flow-control/pkg/core/engine"
	"github.com/LENAX/flow-control/pkg/core/types"
)

// apiSource 经 HTTP 发起的启动请求来源
const apiSource = "api"

// WorkflowHandler 工作流执行API处理器
type WorkflowHandler struct {
	cp *engine.ControlPlane
}

// NewWorkflowHandler 创建WorkflowHandler
func NewWorkflowHandler(cp *engine.ControlPlane) *WorkflowHandler {
	return &WorkflowHandler{cp: cp}
}

// Execute 执行工作流
// 同步模式等待宿主返回结果；异步模式把启动请求发布到总线，立即返回事件ID，
// 确认事件（workflow.started）的 correlation_id 即该事件ID
// POST /api/v1/workflows/:id/versions/:version/execute
func (h *WorkflowHandler) Execute(c *gin.Context) {
	var req dto.ExecuteWorkflowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	userID := middleware.CurrentUserID(c)
	start := types.StartRequest{
		ID:            c.Param("id"),
		Version:       c.Param("version"),
		Data:          req.Data,
		Src:           req.Src,
		UserID:        userID,
		IP:            c.ClientIP(),
		Authenticated: userID != "",
	}
	if start.Src == "" {
		start.Src = apiSource
	}

	if req.Async {
		eventID, err := h.cp.RequestStart(start)
		if err != nil {
			respondError(c, "提交执行请求失败", err)
			return
		}
		c.JSON(http.StatusAccepted, dto.NewSuccessResponse(dto.ExecuteResponse{
			EventID: eventID,
			Message: "执行请求已提交",
		}))
		return
	}

	instanceID, result, err := h.cp.Run(c.Request.Context(), start, nil)
	if err != nil {
		status := statusFor(err)
		c.JSON(status, dto.APIResponse[dto.ExecuteResponse]{
			Code:    status,
			Message: "执行工作流失败: " + err.Error(),
			Data:    dto.ExecuteResponse{InstanceID: instanceID, Message: err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ExecuteResponse{
		InstanceID: instanceID,
		Result:     result,
		Message:    "执行完成",
	}))
}
