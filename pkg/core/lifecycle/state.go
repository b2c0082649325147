// Package lifecycle 管理工作流实例的状态机、实例间依赖图以及启动前的准入控制
package lifecycle

// Status 工作流实例状态枚举（对外导出）
type Status string

const (
	// StatusPending 待启动（初始状态）
	StatusPending Status = "PENDING"
	// StatusRunning 运行中
	StatusRunning Status = "RUNNING"
	// StatusPaused 已暂停
	StatusPaused Status = "PAUSED"
	// StatusCompleted 已完成（终态）
	StatusCompleted Status = "COMPLETED"
	// StatusFailed 已失败（终态）
	StatusFailed Status = "FAILED"
	// StatusCancelled 已取消（终态）
	StatusCancelled Status = "CANCELLED"
	// StatusCleaningUp 清理中，结束后实例被删除
	StatusCleaningUp Status = "CLEANING_UP"
)

// transitions 显式状态转换表
// FAILED/CANCELLED 可从任意非清理状态进入，包括已完成的实例
var transitions = map[Status][]Status{
	StatusPending:    {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:    {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:     {StatusRunning, StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusFailed, StatusCancelled, StatusCleaningUp},
	StatusFailed:     {StatusFailed, StatusCancelled, StatusCleaningUp},
	StatusCancelled:  {StatusFailed, StatusCancelled, StatusCleaningUp},
	StatusCleaningUp: nil,
}

// IsValid 检查状态是否有效（对外导出）
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo 检查是否可以转换到目标状态（对外导出）
func (s Status) CanTransitionTo(target Status) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// ValidTransitions 返回当前状态允许的目标状态
func (s Status) ValidTransitions() []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CanTransition 包级别的便捷函数
func CanTransition(from, to Status) bool {
	return from.CanTransitionTo(to)
}
