package lifecycle

import "errors"

var (
	// ErrInstanceNotFound 实例不存在
	ErrInstanceNotFound = errors.New("工作流实例不存在")
	// ErrInvalidTransition 当前状态不允许该操作
	ErrInvalidTransition = errors.New("非法的状态转换")
	// ErrDependencyNotSatisfied 依赖未满足
	ErrDependencyNotSatisfied = errors.New("依赖未满足")
	// ErrDependencyNotFound 依赖目标无法解析为已有实例
	ErrDependencyNotFound = errors.New("依赖的工作流实例不存在")
	// ErrInvalidDependency 依赖定义不合法
	ErrInvalidDependency = errors.New("依赖定义不合法")
	// ErrConcurrencyLimit 并发数达到上限
	ErrConcurrencyLimit = errors.New("并发工作流数量已达上限")
	// ErrResourceLimit 资源占用达到阈值
	ErrResourceLimit = errors.New("资源占用已达阈值")
	// ErrWorkflowTimeout 运行时间超过上限
	ErrWorkflowTimeout = errors.New("工作流运行超时")
)
