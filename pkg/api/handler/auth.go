package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/api/middleware"
	"github.com/LENAX/flow-control/pkg/core/engine"
)

// AuthHandler 登录处理器
type AuthHandler struct {
	cp     *engine.ControlPlane
	tokens *middleware.TokenManager
}

// NewAuthHandler 创建AuthHandler
func NewAuthHandler(cp *engine.ControlPlane, tokens *middleware.TokenManager) *AuthHandler {
	return &AuthHandler{cp: cp, tokens: tokens}
}

// Login 校验用户名密码并签发访问令牌
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	if !h.tokens.Enabled() {
		c.JSON(http.StatusNotImplemented, dto.NewErrorResponse(501, "未配置jwt_secret，认证未启用"))
		return
	}

	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.cp.Security().Authenticate(req.Username, req.Password)
	if err != nil {
		respondError(c, "登录失败", err)
		return
	}
	token, expiresAt, err := h.tokens.Issue(user)
	if err != nil {
		respondError(c, "签发令牌失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    user.ID,
		Roles:     user.Roles,
	}))
}
