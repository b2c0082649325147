package dto

import "time"

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// InstanceSummary 实例摘要
type InstanceSummary struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflowId"`
	Version      string     `json:"version"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Duration     string     `json:"duration,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// ExecuteResponse 执行响应
type ExecuteResponse struct {
	InstanceID string      `json:"instanceId,omitempty"`
	EventID    string      `json:"eventId,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	Message    string      `json:"message"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
	Roles     []string  `json:"roles"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// ListResponse 列表响应
type ListResponse[T any] struct {
	Total   int  `json:"total"`
	Items   []T  `json:"items"`
	HasMore bool `json:"hasMore"`
}

// Paginate 截取分页区间
func Paginate[T any](items []T, offset, limit int) ListResponse[T] {
	total := len(items)
	if offset >= total {
		return ListResponse[T]{Total: total, Items: []T{}, HasMore: false}
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return ListResponse[T]{
		Total:   total,
		Items:   items[offset:end],
		HasMore: end < total,
	}
}
