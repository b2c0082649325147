package types

import "context"

// context key类型，用于类型安全的context.Value访问
type contextKey string

const (
	// InstanceIDKey 工作流实例ID在context中的key
	InstanceIDKey contextKey = "workflow.instance.id"
	// WorkflowIDKey 工作流ID在context中的key
	WorkflowIDKey contextKey = "workflow.id"
	// AttemptKey 当前执行尝试次数（从1开始）
	AttemptKey contextKey = "workflow.attempt"
)

// WithInstanceID 将实例ID添加到context中（对外导出）
// 控制面在调用执行入口前写入，宿主可以据此上报资源占用或注册清理任务
func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, InstanceIDKey, instanceID)
}

// GetInstanceID 从context中获取实例ID（对外导出）
func GetInstanceID(ctx context.Context) string {
	if id, ok := ctx.Value(InstanceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithWorkflowID 将工作流ID添加到context中（对外导出）
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, WorkflowIDKey, workflowID)
}

// GetWorkflowID 从context中获取工作流ID（对外导出）
func GetWorkflowID(ctx context.Context) string {
	if id, ok := ctx.Value(WorkflowIDKey).(string); ok {
		return id
	}
	return ""
}

// WithAttempt 记录当前尝试次数
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, AttemptKey, attempt)
}

// GetAttempt 获取当前尝试次数，未设置时返回0
func GetAttempt(ctx context.Context) int {
	if n, ok := ctx.Value(AttemptKey).(int); ok {
		return n
	}
	return 0
}
