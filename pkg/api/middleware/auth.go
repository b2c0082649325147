package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/core/security"
)

const (
	// ContextKeyUserID 已认证用户ID
	ContextKeyUserID = "auth.userId"
	// ContextKeyRoles 已认证用户角色
	ContextKeyRoles = "auth.roles"
)

// Claims JWT声明
type Claims struct {
	UserID string   `json:"uid"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager 签发与校验访问令牌，secret 为空时不启用认证
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager 创建令牌管理器
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled 是否启用认证
func (tm *TokenManager) Enabled() bool {
	return tm != nil && len(tm.secret) > 0
}

// Issue 为用户签发令牌
func (tm *TokenManager) Issue(user *security.User) (string, time.Time, error) {
	if !tm.Enabled() {
		return "", time.Time{}, errors.New("未配置jwt_secret，认证未启用")
	}
	now := tm.now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		UserID: user.ID,
		Roles:  append([]string(nil), user.Roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Parse 校验令牌并返回声明
func (tm *TokenManager) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RequireAuth 校验 Authorization: Bearer <token>；websocket 等无法设置请求头的场景可以用 access_token 查询参数
// 未启用认证时直接放行，请求以匿名身份执行
func RequireAuth(tm *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tm.Enabled() {
			c.Next()
			return
		}

		tokenString := c.Query("access_token")
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(401, "Authorization格式错误"))
				return
			}
			tokenString = parts[1]
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(401, "缺少访问令牌"))
			return
		}

		claims, err := tm.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(401, "访问令牌无效: "+err.Error()))
			return
		}
		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRoles, claims.Roles)
		c.Next()
	}
}

// RequireRole 要求已认证用户拥有指定角色；未启用认证时放行
func RequireRole(tm *TokenManager, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tm.Enabled() {
			c.Next()
			return
		}
		roles, _ := c.Get(ContextKeyRoles)
		list, _ := roles.([]string)
		for _, r := range list {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponse(403, "需要 "+role+" 角色"))
	}
}

// CurrentUserID 当前请求的用户ID，匿名时为空
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}
