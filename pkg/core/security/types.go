// Package security 负责执行前的权限判定、输入校验、限流以及审计与安全事件记录
package security

import (
	"fmt"
	"time"
)

// PermissionPolicy 工作流未配置权限时的默认策略
type PermissionPolicy string

const (
	// DefaultAllow 未配置权限的工作流，任何存在且启用的用户都可执行
	DefaultAllow PermissionPolicy = "allow"
	// DefaultDeny 未配置权限的工作流一律拒绝
	DefaultDeny PermissionPolicy = "deny"
)

// ParsePermissionPolicy 解析策略字符串，空字符串视为 DefaultAllow
func ParsePermissionPolicy(s string) (PermissionPolicy, error) {
	switch PermissionPolicy(s) {
	case "", DefaultAllow:
		return DefaultAllow, nil
	case DefaultDeny:
		return DefaultDeny, nil
	default:
		return "", fmt.Errorf("未知的权限策略: %s", s)
	}
}

// User 用户
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Roles        []string  `json:"roles"`
	Permissions  []string  `json:"permissions"`
	Active       bool      `json:"active"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasRole 是否拥有角色
func (u *User) HasRole(role string) bool {
	return containsString(u.Roles, role)
}

// RateLimitSpec 限流规则
type RateLimitSpec struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// WorkflowPermission 单个工作流版本的访问策略
type WorkflowPermission struct {
	WorkflowID   string         `json:"workflowId"`
	Version      string         `json:"version"`
	AllowedUsers []string       `json:"allowedUsers,omitempty"`
	AllowedRoles []string       `json:"allowedRoles,omitempty"`
	Permissions  []string       `json:"permissions,omitempty"`
	RequireAuth  bool           `json:"requireAuth"`
	IPWhitelist  []string       `json:"ipWhitelist,omitempty"`
	RateLimit    *RateLimitSpec `json:"rateLimit,omitempty"`
}

// Key 权限表主键 workflowId@version
func (p *WorkflowPermission) Key() string {
	return permissionKey(p.WorkflowID, p.Version)
}

func permissionKey(workflowID, version string) string {
	return workflowID + "@" + version
}

// 审计结果
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// 判定原因代码
const (
	ReasonUserNotFound            = "user_not_found"
	ReasonUserInactive            = "user_inactive"
	ReasonNoSpecificPermissions   = "no_specific_permissions"
	ReasonUserAllowed             = "user_allowed"
	ReasonRoleAllowed             = "role_allowed"
	ReasonPermissionGranted       = "permission_granted"
	ReasonInsufficientPermissions = "insufficient_permissions"
	ReasonAuthenticationRequired  = "authentication_required"
	ReasonIPNotAllowed            = "ip_not_allowed"
	ReasonRateLimitExceeded       = "rate_limit_exceeded"
	ReasonInvalidCredentials      = "invalid_credentials"
)

// AuditLogEntry 审计记录
type AuditLogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    string                 `json:"userId"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Result    string                 `json:"result"`
	Reason    string                 `json:"reason,omitempty"`
	IP        string                 `json:"ip,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// EventType 安全事件类型
type EventType string

const (
	EventPermissionDenied  EventType = "permission_denied"
	EventRateLimitExceeded EventType = "rate_limit_exceeded"
	EventSuspiciousInput   EventType = "suspicious_input"
	EventAuthFailure       EventType = "auth_failure"
	EventIPBlocked         EventType = "ip_blocked"
)

// Severity 严重程度
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEvent 需要关注的安全异常
type SecurityEvent struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Severity    Severity               `json:"severity"`
	Timestamp   time.Time              `json:"timestamp"`
	UserID      string                 `json:"userId,omitempty"`
	Resource    string                 `json:"resource,omitempty"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Resolved    bool                   `json:"resolved"`
	Resolution  string                 `json:"resolution,omitempty"`
	ResolvedAt  *time.Time             `json:"resolvedAt,omitempty"`
}

// RateLimitResult 限流计数结果，超限时调用方自行决定是否拒绝
type RateLimitResult struct {
	Identifier string    `json:"identifier"`
	Current    int       `json:"current"`
	Limit      int       `json:"limit"`
	ResetTime  time.Time `json:"resetTime"`
	Exceeded   bool      `json:"exceeded"`
}

// ValidationResult 输入校验结果
type ValidationResult struct {
	Valid     bool        `json:"valid"`
	Errors    []string    `json:"errors,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Sanitized interface{} `json:"sanitized,omitempty"`
}

// InputSchema 浅层对象结构约束
type InputSchema struct {
	Required   []string                  `json:"required,omitempty" yaml:"required,omitempty"`
	Properties map[string]PropertySchema `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// PropertySchema 字段类型：string/number/integer/boolean/object/array/null
type PropertySchema struct {
	Type string `json:"type" yaml:"type"`
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
