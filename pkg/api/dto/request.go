package dto

import "time"

// ExecuteWorkflowRequest 执行工作流请求
type ExecuteWorkflowRequest struct {
	Data map[string]interface{} `json:"data" binding:"omitempty"`
	// Async 为 true 时请求经消息总线异步执行，立即返回事件ID
	Async bool `json:"async"`
	// Src 异步确认的接收方标识，默认 api
	Src string `json:"src" binding:"omitempty,max=64"`
}

// CancelInstanceRequest 取消实例请求
type CancelInstanceRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=512"`
}

// ResourceUsageRequest 上报实例资源占用
type ResourceUsageRequest struct {
	MemoryMB   float64 `json:"memoryMB" binding:"min=0"`
	CPUPercent float64 `json:"cpuPercent" binding:"min=0,max=100"`
	DiskMB     float64 `json:"diskMB" binding:"min=0"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ResolveEventRequest 处理安全事件
type ResolveEventRequest struct {
	Resolution string `json:"resolution" binding:"required"`
}

// ValidateInputRequest 输入校验请求
type ValidateInputRequest struct {
	Data   interface{}         `json:"data"`
	Schema *InputSchemaRequest `json:"schema,omitempty"`
}

// InputSchemaRequest 浅层对象结构约束
type InputSchemaRequest struct {
	Required   []string          `json:"required,omitempty"`
	Properties map[string]string `json:"properties,omitempty"` // 字段名 -> 类型
}

// UserRequest 新增或覆盖用户
type UserRequest struct {
	ID          string   `json:"id" binding:"required"`
	Username    string   `json:"username" binding:"required"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Active      bool     `json:"active"`
	Password    string   `json:"password" binding:"omitempty,min=8"`
}

// PermissionRequest 新增或覆盖工作流权限
type PermissionRequest struct {
	WorkflowID   string   `json:"workflowId" binding:"required"`
	Version      string   `json:"version" binding:"required"`
	AllowedUsers []string `json:"allowedUsers"`
	AllowedRoles []string `json:"allowedRoles"`
	Permissions  []string `json:"permissions"`
	RequireAuth  bool     `json:"requireAuth"`
	IPWhitelist  []string `json:"ipWhitelist"`
	RateLimit    *struct {
		Limit    int   `json:"limit" binding:"min=1"`
		WindowMs int64 `json:"windowMs" binding:"min=1"`
	} `json:"rateLimit,omitempty"`
}

// InstanceQueryRequest 实例列表查询
type InstanceQueryRequest struct {
	Status     string `form:"status" binding:"omitempty,oneof=PENDING RUNNING PAUSED COMPLETED FAILED CANCELLED CLEANING_UP"`
	WorkflowID string `form:"workflowId" binding:"omitempty"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset     int    `form:"offset" binding:"omitempty,min=0"`
}

// AuditQueryRequest 审计日志查询
type AuditQueryRequest struct {
	UserID   string    `form:"userId"`
	Resource string    `form:"resource"`
	Result   string    `form:"result" binding:"omitempty,oneof=allowed denied success failure"`
	Since    time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit    int       `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// EventQueryRequest 安全事件查询
type EventQueryRequest struct {
	Type     string `form:"type"`
	Severity string `form:"severity" binding:"omitempty,oneof=low medium high critical"`
	Resolved *bool  `form:"resolved"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// GetDefaultLimit 获取默认limit
func (r *InstanceQueryRequest) GetDefaultLimit() int {
	if r.Limit <= 0 {
		return 20
	}
	return r.Limit
}
