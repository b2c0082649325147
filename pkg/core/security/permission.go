package security

import (
	"fmt"
	"net"
	"strings"
)

// lookupPermission 精确匹配 workflowId@version，其次匹配 workflowId@*
func (m *Manager) lookupPermission(workflowID, version string) *WorkflowPermission {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.permissions[permissionKey(workflowID, version)]; ok {
		cp := *p
		return &cp
	}
	if p, ok := m.permissions[permissionKey(workflowID, "*")]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (m *Manager) lookupUser(userID string) *User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u, ok := m.users[userID]; ok {
		cp := *u
		return &cp
	}
	return nil
}

// CheckWorkflowPermission 判定用户能否对工作流执行操作
// 判定顺序：用户存在且启用 -> 默认策略 -> 用户白名单 -> 角色白名单 -> 通用权限
// 每个分支都会写入带原因代码的审计记录；拒绝不是错误
func (m *Manager) CheckWorkflowPermission(userID, workflowID, version, action string) bool {
	allowed, _ := m.decide(userID, workflowID, version, action)
	return allowed
}

func (m *Manager) decide(userID, workflowID, version, action string) (bool, string) {
	resource := fmt.Sprintf("workflow:%s@%s", workflowID, version)

	record := func(allowed bool, reason string) (bool, string) {
		result := ResultAllowed
		if !allowed {
			result = ResultDenied
		}
		m.LogAuditEvent(AuditLogEntry{
			UserID:   userID,
			Action:   action,
			Resource: resource,
			Result:   result,
			Reason:   reason,
		})
		if !allowed {
			m.CreateSecurityEvent(SecurityEvent{
				Type:        EventPermissionDenied,
				Severity:    SeverityMedium,
				UserID:      userID,
				Resource:    resource,
				Description: fmt.Sprintf("用户 %s 对 %s 的 %s 操作被拒绝", userID, resource, action),
				Details:     map[string]interface{}{"reason": reason},
			})
		}
		return allowed, reason
	}

	user := m.lookupUser(userID)
	if user == nil {
		return record(false, ReasonUserNotFound)
	}
	if !user.Active {
		return record(false, ReasonUserInactive)
	}

	perm := m.lookupPermission(workflowID, version)
	if perm == nil {
		return record(m.cfg.Policy == DefaultAllow, ReasonNoSpecificPermissions)
	}

	if containsString(perm.AllowedUsers, userID) {
		return record(true, ReasonUserAllowed)
	}
	for _, role := range perm.AllowedRoles {
		if user.HasRole(role) {
			return record(true, ReasonRoleAllowed)
		}
	}
	if grants(perm.Permissions, action) && grants(user.Permissions, action) {
		return record(true, ReasonPermissionGranted)
	}
	return record(false, ReasonInsufficientPermissions)
}

// grants 列表中包含该操作或通配符 *
func grants(list []string, action string) bool {
	return containsString(list, action) || containsString(list, "*")
}

// ExecutionRequest 执行授权请求
type ExecutionRequest struct {
	UserID        string
	WorkflowID    string
	Version       string
	Action        string // 默认 execute
	IP            string
	Authenticated bool
}

// Decision 授权结果
type Decision struct {
	Allowed   bool             `json:"allowed"`
	Reason    string           `json:"reason"`
	RateLimit *RateLimitResult `json:"rateLimit,omitempty"`
}

// AuthorizeExecution 权限判定之外再检查 requireAuth、IP白名单与该工作流的限流规则
func (m *Manager) AuthorizeExecution(req ExecutionRequest) Decision {
	if req.Action == "" {
		req.Action = "execute"
	}
	resource := fmt.Sprintf("workflow:%s@%s", req.WorkflowID, req.Version)
	perm := m.lookupPermission(req.WorkflowID, req.Version)

	deny := func(reason string, evType EventType, severity Severity) Decision {
		m.LogAuditEvent(AuditLogEntry{
			UserID:   req.UserID,
			Action:   req.Action,
			Resource: resource,
			Result:   ResultDenied,
			Reason:   reason,
			IP:       req.IP,
		})
		m.CreateSecurityEvent(SecurityEvent{
			Type:        evType,
			Severity:    severity,
			UserID:      req.UserID,
			Resource:    resource,
			Description: fmt.Sprintf("执行 %s 被拒绝: %s", resource, reason),
			Details:     map[string]interface{}{"ip": req.IP},
		})
		return Decision{Allowed: false, Reason: reason}
	}

	if perm != nil && perm.RequireAuth && !req.Authenticated {
		return deny(ReasonAuthenticationRequired, EventAuthFailure, SeverityMedium)
	}

	allowed, reason := m.decide(req.UserID, req.WorkflowID, req.Version, req.Action)
	if !allowed {
		return Decision{Allowed: false, Reason: reason}
	}

	if perm != nil && len(perm.IPWhitelist) > 0 && !ipAllowed(perm.IPWhitelist, req.IP) {
		return deny(ReasonIPNotAllowed, EventIPBlocked, SeverityHigh)
	}

	decision := Decision{Allowed: true, Reason: reason}
	if perm != nil && perm.RateLimit != nil {
		rl := m.CheckRateLimit(req.UserID+"|"+perm.Key(), perm.RateLimit.Limit, perm.RateLimit.Window)
		decision.RateLimit = &rl
		if rl.Exceeded {
			decision.Allowed = false
			decision.Reason = ReasonRateLimitExceeded
		}
	}
	return decision
}

// ipAllowed 白名单项可以是单个IP或CIDR
func ipAllowed(whitelist []string, ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, entry := range whitelist {
		if strings.Contains(entry, "/") {
			if _, network, err := net.ParseCIDR(entry); err == nil && network.Contains(parsed) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(parsed) {
			return true
		}
	}
	return false
}
