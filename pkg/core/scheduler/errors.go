package scheduler

import "errors"

var (
	// ErrScheduleNotFound 定时计划不存在
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrInvalidSchedule 描述文件缺少必填字段或Cron表达式非法
	ErrInvalidSchedule = errors.New("无效的定时计划")
	// ErrScheduleBusy 已达到 maxConcurrent，本次触发被跳过
	ErrScheduleBusy = errors.New("定时计划正在运行，本次触发已跳过")
)
