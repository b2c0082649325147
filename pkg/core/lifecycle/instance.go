package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/flow-control/pkg/core/types"
)

// Condition 依赖满足条件
type Condition string

const (
	// ConditionCompleted 前置实例必须成功完成
	ConditionCompleted Condition = "completed"
	// ConditionFailed 前置实例必须失败
	ConditionFailed Condition = "failed"
	// ConditionAny 前置实例进入任意终态即可
	ConditionAny Condition = "any"
)

// IsValid 检查条件是否有效
func (c Condition) IsValid() bool {
	switch c {
	case ConditionCompleted, ConditionFailed, ConditionAny:
		return true
	default:
		return false
	}
}

// SatisfiedBy 判断前置实例的状态是否满足条件
func (c Condition) SatisfiedBy(status Status) bool {
	switch c {
	case ConditionCompleted:
		return status == StatusCompleted
	case ConditionFailed:
		return status == StatusFailed
	case ConditionAny:
		return status.IsTerminal()
	default:
		return false
	}
}

// ResourceUsage 资源占用快照
type ResourceUsage struct {
	MemoryMB   float64 `json:"memoryMB"`
	CPUPercent float64 `json:"cpuPercent"`
	DiskMB     float64 `json:"diskMB"`
}

// Add 累加资源占用
func (r ResourceUsage) Add(other ResourceUsage) ResourceUsage {
	return ResourceUsage{
		MemoryMB:   r.MemoryMB + other.MemoryMB,
		CPUPercent: r.CPUPercent + other.CPUPercent,
		DiskMB:     r.DiskMB + other.DiskMB,
	}
}

// IsZero 是否未上报任何资源占用
func (r ResourceUsage) IsZero() bool {
	return r.MemoryMB == 0 && r.CPUPercent == 0 && r.DiskMB == 0
}

// WorkflowDependency 依赖边，按依赖方实例记录
// Target 可以是实例ID，也可以是 workflowId 或 workflowId@version（解析为该工作流最新的实例）
type WorkflowDependency struct {
	WorkflowID string        `json:"workflowId"`
	Version    string        `json:"version,omitempty"`
	Condition  Condition     `json:"condition"`
	Timeout    time.Duration `json:"timeout,omitempty"` // 仅记录，不主动执行
	// InstanceID 创建实例时解析出的前置实例ID
	InstanceID string `json:"instanceId"`
}

// WorkflowInstance 工作流实例（对外导出）
type WorkflowInstance struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflowId"`
	Version         string                 `json:"version"`
	Status          Status                 `json:"status"`
	Priority        types.Priority         `json:"priority"`
	CreatedAt       time.Time              `json:"createdAt"`
	StartedAt       *time.Time             `json:"startedAt,omitempty"`
	UpdatedAt       time.Time              `json:"updatedAt"`
	CompletedAt     *time.Time             `json:"completedAt,omitempty"`
	PausedAt        *time.Time             `json:"pausedAt,omitempty"`
	ResumedAt       *time.Time             `json:"resumedAt,omitempty"`
	CancelledAt     *time.Time             `json:"cancelledAt,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Dependencies    []string               `json:"dependencies"`
	Dependents      []string               `json:"dependents"`
	DependencyEdges []WorkflowDependency   `json:"dependencyEdges,omitempty"`
	CleanupTasks    []string               `json:"cleanupTasks,omitempty"`
	Resources       ResourceUsage          `json:"resources"`
}

// newInstanceID 生成实例ID：workflowId_毫秒时间戳_随机后缀
func newInstanceID(workflowID string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", workflowID, now.UnixMilli(), suffix)
}

// Clone 深拷贝，对外返回的实例都是快照
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}
	cp := *w
	cp.StartedAt = cloneTime(w.StartedAt)
	cp.CompletedAt = cloneTime(w.CompletedAt)
	cp.PausedAt = cloneTime(w.PausedAt)
	cp.ResumedAt = cloneTime(w.ResumedAt)
	cp.CancelledAt = cloneTime(w.CancelledAt)
	if w.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(w.Metadata))
		for k, v := range w.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.Dependencies = append([]string{}, w.Dependencies...)
	cp.Dependents = append([]string{}, w.Dependents...)
	cp.DependencyEdges = append([]WorkflowDependency(nil), w.DependencyEdges...)
	cp.CleanupTasks = append([]string(nil), w.CleanupTasks...)
	return &cp
}

// ExecutionTime 已完成实例的执行耗时
func (w *WorkflowInstance) ExecutionTime() (time.Duration, bool) {
	if w.StartedAt == nil || w.CompletedAt == nil {
		return 0, false
	}
	return w.CompletedAt.Sub(*w.StartedAt), true
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
