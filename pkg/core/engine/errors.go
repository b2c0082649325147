package engine

import "errors"

var (
	// ErrWorkflowDisabled 工作流配置被禁用
	ErrWorkflowDisabled = errors.New("工作流已禁用")
	// ErrNoExecutionHost 没有注册工作流执行入口
	ErrNoExecutionHost = errors.New("未配置工作流执行入口")
	// ErrAccessDenied 启动请求未通过授权
	ErrAccessDenied = errors.New("没有执行权限")
	// ErrInvalidInput 输入未通过工作流配置的校验
	ErrInvalidInput = errors.New("工作流输入校验失败")
	// ErrNotRunning 控制面未启动
	ErrNotRunning = errors.New("控制面未启动")
)
