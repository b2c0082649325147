package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/core/engine"
	"github.com/LENAX/flow-control/pkg/core/security"
)

// SecurityHandler 用户、权限、审计与安全事件API处理器
type SecurityHandler struct {
	cp *engine.ControlPlane
}

// NewSecurityHandler 创建SecurityHandler
func NewSecurityHandler(cp *engine.ControlPlane) *SecurityHandler {
	return &SecurityHandler{cp: cp}
}

// ListUsers 列出用户，不返回密码哈希
// GET /api/v1/security/users
func (h *SecurityHandler) ListUsers(c *gin.Context) {
	users := h.cp.Security().ListUsers()
	for i := range users {
		users[i].PasswordHash = ""
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(users))
}

// GetUser 获取用户
// GET /api/v1/security/users/:id
func (h *SecurityHandler) GetUser(c *gin.Context) {
	user, err := h.cp.Security().GetUser(c.Param("id"))
	if err != nil {
		respondError(c, "查询用户失败", err)
		return
	}
	user.PasswordHash = ""
	c.JSON(http.StatusOK, dto.NewSuccessResponse(user))
}

// PutUser 新增或覆盖用户，提供 password 时同时设置密码
// PUT /api/v1/security/users
func (h *SecurityHandler) PutUser(c *gin.Context) {
	var req dto.UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	sec := h.cp.Security()
	user := &security.User{
		ID:          req.ID,
		Username:    req.Username,
		Roles:       req.Roles,
		Permissions: req.Permissions,
		Active:      req.Active,
	}
	// 覆盖时保留原有的密码与创建时间
	if existing, err := sec.GetUser(req.ID); err == nil {
		user.PasswordHash = existing.PasswordHash
		user.CreatedAt = existing.CreatedAt
	}
	if err := sec.AddUser(ctx, user); err != nil {
		respondError(c, "保存用户失败", err)
		return
	}
	if req.Password != "" {
		if err := sec.SetPassword(ctx, req.ID, req.Password); err != nil {
			respondError(c, "设置密码失败", err)
			return
		}
	}

	saved, err := sec.GetUser(req.ID)
	if err != nil {
		respondError(c, "查询用户失败", err)
		return
	}
	saved.PasswordHash = ""
	c.JSON(http.StatusOK, dto.NewSuccessResponse(saved))
}

// DeleteUser 删除用户
// DELETE /api/v1/security/users/:id
func (h *SecurityHandler) DeleteUser(c *gin.Context) {
	if err := h.cp.Security().RemoveUser(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "删除用户失败", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListPermissions 列出工作流权限
// GET /api/v1/security/permissions
func (h *SecurityHandler) ListPermissions(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.cp.Security().ListWorkflowPermissions()))
}

// GetPermission 获取工作流权限
// GET /api/v1/security/permissions/:id/versions/:version
func (h *SecurityHandler) GetPermission(c *gin.Context) {
	perm, err := h.cp.Security().GetWorkflowPermission(c.Param("id"), c.Param("version"))
	if err != nil {
		respondError(c, "查询权限失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(perm))
}

// PutPermission 新增或覆盖工作流权限
// PUT /api/v1/security/permissions
func (h *SecurityHandler) PutPermission(c *gin.Context) {
	var req dto.PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	perm := &security.WorkflowPermission{
		WorkflowID:   req.WorkflowID,
		Version:      req.Version,
		AllowedUsers: req.AllowedUsers,
		AllowedRoles: req.AllowedRoles,
		Permissions:  req.Permissions,
		RequireAuth:  req.RequireAuth,
		IPWhitelist:  req.IPWhitelist,
	}
	if req.RateLimit != nil {
		perm.RateLimit = &security.RateLimitSpec{
			Limit:  req.RateLimit.Limit,
			Window: time.Duration(req.RateLimit.WindowMs) * time.Millisecond,
		}
	}
	if err := h.cp.Security().AddWorkflowPermission(c.Request.Context(), perm); err != nil {
		respondError(c, "保存权限失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(perm))
}

// DeletePermission 删除工作流权限
// DELETE /api/v1/security/permissions/:id/versions/:version
func (h *SecurityHandler) DeletePermission(c *gin.Context) {
	if err := h.cp.Security().RemoveWorkflowPermission(c.Request.Context(), c.Param("id"), c.Param("version")); err != nil {
		respondError(c, "删除权限失败", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Audit 查询审计日志
// GET /api/v1/security/audit
func (h *SecurityHandler) Audit(c *gin.Context) {
	var query dto.AuditQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err)
		return
	}
	entries := h.cp.Security().AuditLog(security.AuditFilter{
		UserID:   query.UserID,
		Resource: query.Resource,
		Result:   query.Result,
		Since:    query.Since,
		Limit:    query.Limit,
	})
	c.JSON(http.StatusOK, dto.NewSuccessResponse(entries))
}

// Events 查询安全事件
// GET /api/v1/security/events
func (h *SecurityHandler) Events(c *gin.Context) {
	var query dto.EventQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err)
		return
	}
	filter := security.EventFilter{
		Type:     security.EventType(query.Type),
		Severity: security.Severity(query.Severity),
		Resolved: query.Resolved,
		Limit:    query.Limit,
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.cp.Security().SecurityEvents(filter)))
}

// ResolveEvent 标记安全事件已处理
// POST /api/v1/security/events/:id/resolve
func (h *SecurityHandler) ResolveEvent(c *gin.Context) {
	var req dto.ResolveEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.cp.Security().ResolveSecurityEvent(c.Param("id"), req.Resolution); err != nil {
		respondError(c, "处理安全事件失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"eventId":    c.Param("id"),
		"resolution": req.Resolution,
	}))
}

// Validate 按给定结构校验并清洗输入
// POST /api/v1/security/validate
func (h *SecurityHandler) Validate(c *gin.Context) {
	var req dto.ValidateInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	var schema *security.InputSchema
	if req.Schema != nil {
		schema = &security.InputSchema{
			Required:   req.Schema.Required,
			Properties: make(map[string]security.PropertySchema, len(req.Schema.Properties)),
		}
		for name, typ := range req.Schema.Properties {
			schema.Properties[name] = security.PropertySchema{Type: typ}
		}
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.cp.Security().ValidateInput(req.Data, schema)))
}

// Statistics 安全统计
// GET /api/v1/security/stats
func (h *SecurityHandler) Statistics(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.cp.Security().Statistics()))
}
