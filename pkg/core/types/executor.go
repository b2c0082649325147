package types

import (
	"context"
)

// Executor 工作流执行边界（对外导出）
// 由宿主应用提供，真正执行工作流逻辑；Scheduler 与外部启动请求都经由该入口
type Executor interface {
	// StartWorkflow 执行指定版本的工作流，返回执行结果或错误
	StartWorkflow(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error)
}

// ExecutorFunc 函数适配器
type ExecutorFunc func(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error)

// StartWorkflow 实现Executor接口
func (f ExecutorFunc) StartWorkflow(ctx context.Context, workflowID, version string, data map[string]interface{}) (interface{}, error) {
	return f(ctx, workflowID, version, data)
}
