package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/core/engine"
	"github.com/LENAX/flow-control/pkg/core/policy"
)

// ConfigHandler 工作流配置API处理器
type ConfigHandler struct {
	cp *engine.ControlPlane
}

// NewConfigHandler 创建ConfigHandler
func NewConfigHandler(cp *engine.ControlPlane) *ConfigHandler {
	return &ConfigHandler{cp: cp}
}

// List 列出全部配置
// GET /api/v1/configs
func (h *ConfigHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.cp.Policies().List()))
}

// Get 获取配置
// GET /api/v1/configs/:id/versions/:version
func (h *ConfigHandler) Get(c *gin.Context) {
	cfg, err := h.cp.Policies().Get(c.Param("id"), c.Param("version"))
	if err != nil {
		respondError(c, "查询配置失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(cfg))
}

// Create 新增配置
// POST /api/v1/configs
func (h *ConfigHandler) Create(c *gin.Context) {
	var cfg policy.WorkflowConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.cp.Policies().Add(c.Request.Context(), &cfg); err != nil {
		respondConfigError(c, "新增配置失败", err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(&cfg))
}

// Update 覆盖配置，路径中的 id/version 优先
// PUT /api/v1/configs/:id/versions/:version
func (h *ConfigHandler) Update(c *gin.Context) {
	var cfg policy.WorkflowConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err)
		return
	}
	cfg.ID = c.Param("id")
	cfg.Version = c.Param("version")
	if err := h.cp.Policies().Update(c.Request.Context(), &cfg); err != nil {
		respondConfigError(c, "更新配置失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(&cfg))
}

// Delete 删除配置
// DELETE /api/v1/configs/:id/versions/:version
func (h *ConfigHandler) Delete(c *gin.Context) {
	if err := h.cp.Policies().Remove(c.Request.Context(), c.Param("id"), c.Param("version")); err != nil {
		respondError(c, "删除配置失败", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Backups 列出备份文件
// GET /api/v1/configs/:id/versions/:version/backups
func (h *ConfigHandler) Backups(c *gin.Context) {
	files, err := h.cp.Policies().Backups(c.Param("id"), c.Param("version"))
	if err != nil {
		respondError(c, "查询备份失败", err)
		return
	}
	if files == nil {
		files = []string{}
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(files))
}

// Export 导出全部配置，?format=json|yaml
// GET /api/v1/configs/export
func (h *ConfigHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	data, err := h.cp.Policies().Export(format)
	if err != nil {
		respondError(c, "导出配置失败", err)
		return
	}
	contentType := "application/json"
	if format == "yaml" || format == "yml" {
		contentType = "application/x-yaml"
	}
	c.Data(http.StatusOK, contentType, data)
}

// Import 导入配置，请求体为导出格式的原文，?format=json|yaml
// POST /api/v1/configs/import
func (h *ConfigHandler) Import(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.cp.Policies().Import(c.Request.Context(), data, c.DefaultQuery("format", "json"))
	if err != nil {
		respondConfigError(c, "导入配置失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(result))
}

// respondConfigError 校验失败时把全部问题放进响应
func respondConfigError(c *gin.Context, action string, err error) {
	var verr *policy.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, dto.APIResponse[[]string]{
			Code:    http.StatusBadRequest,
			Message: action + ": " + verr.Error(),
			Data:    verr.Problems,
		})
		return
	}
	respondError(c, action, err)
}
