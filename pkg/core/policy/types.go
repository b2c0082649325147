// Package policy 管理每个工作流版本的执行策略（重试、超时、优先级、并发、安全与监控）
// 策略以 {id}-{version}.json 文件存放在目录中，支持备份、热加载与导入导出
package policy

import (
	"time"

	"github.com/LENAX/flow-control/pkg/core/types"
)

// WorkflowConfig 单个工作流版本的执行策略（对外导出）
type WorkflowConfig struct {
	ID           string            `json:"id" yaml:"id" validate:"required,workflowid"`
	Version      string            `json:"version" yaml:"version" validate:"required,semver"`
	Name         string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	MaxRetries   int               `json:"maxRetries" yaml:"maxRetries" validate:"min=0,max=10"`
	Timeout      int64             `json:"timeout" yaml:"timeout" validate:"min=1000,max=3600000"` // 毫秒
	Priority     types.Priority    `json:"priority" yaml:"priority" validate:"required,oneof=LOW NORMAL HIGH CRITICAL"`
	Concurrency  int               `json:"concurrency" yaml:"concurrency" validate:"min=1,max=100"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty" validate:"dive,required"`
	Security     *SecurityPolicy   `json:"security,omitempty" yaml:"security,omitempty" validate:"omitempty"`
	Monitoring   *MonitoringPolicy `json:"monitoring,omitempty" yaml:"monitoring,omitempty" validate:"omitempty"`
	Validation   *ValidationPolicy `json:"validation,omitempty" yaml:"validation,omitempty" validate:"omitempty"`
}

// SecurityPolicy 工作流级安全约束，由控制面同步到安全管理器
type SecurityPolicy struct {
	RequireAuth  bool             `json:"requireAuth" yaml:"requireAuth"`
	AllowedUsers []string         `json:"allowedUsers,omitempty" yaml:"allowedUsers,omitempty" validate:"dive,required"`
	AllowedRoles []string         `json:"allowedRoles,omitempty" yaml:"allowedRoles,omitempty" validate:"dive,required"`
	Permissions  []string         `json:"permissions,omitempty" yaml:"permissions,omitempty" validate:"dive,required"`
	IPWhitelist  []string         `json:"ipWhitelist,omitempty" yaml:"ipWhitelist,omitempty" validate:"dive,ip|cidr"`
	RateLimit    *RateLimitPolicy `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty" validate:"omitempty"`
}

// RateLimitPolicy 限流规则，窗口单位毫秒
type RateLimitPolicy struct {
	Limit    int   `json:"limit" yaml:"limit" validate:"min=1"`
	WindowMs int64 `json:"windowMs" yaml:"windowMs" validate:"min=1000"`
}

// Window 窗口时长
func (r *RateLimitPolicy) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// MonitoringPolicy 监控与告警开关
type MonitoringPolicy struct {
	Enabled bool        `json:"enabled" yaml:"enabled"`
	Metrics []string    `json:"metrics,omitempty" yaml:"metrics,omitempty" validate:"dive,required"`
	Alerts  []AlertRule `json:"alerts,omitempty" yaml:"alerts,omitempty" validate:"dive"`
}

// AlertRule 告警规则
type AlertRule struct {
	Type      string  `json:"type" yaml:"type" validate:"required,oneof=failure timeout duration"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty" validate:"min=0"`
	Channel   string  `json:"channel,omitempty" yaml:"channel,omitempty" validate:"omitempty,oneof=log email"`
}

// ValidationPolicy 输入输出校验所引用的schema
type ValidationPolicy struct {
	InputSchema  string `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	OutputSchema string `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`
	Strict       bool   `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// Key 配置表主键 id@version
func (c *WorkflowConfig) Key() string {
	return configKey(c.ID, c.Version)
}

// TimeoutDuration 超时时长
func (c *WorkflowConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// FileName 描述文件名 {id}-{version}.json
func (c *WorkflowConfig) FileName() string {
	return c.ID + "-" + c.Version + ".json"
}

// Clone 深拷贝
func (c *WorkflowConfig) Clone() *WorkflowConfig {
	cp := *c
	cp.Dependencies = append([]string(nil), c.Dependencies...)
	if c.Security != nil {
		s := *c.Security
		s.AllowedUsers = append([]string(nil), c.Security.AllowedUsers...)
		s.AllowedRoles = append([]string(nil), c.Security.AllowedRoles...)
		s.Permissions = append([]string(nil), c.Security.Permissions...)
		s.IPWhitelist = append([]string(nil), c.Security.IPWhitelist...)
		if c.Security.RateLimit != nil {
			rl := *c.Security.RateLimit
			s.RateLimit = &rl
		}
		cp.Security = &s
	}
	if c.Monitoring != nil {
		m := *c.Monitoring
		m.Metrics = append([]string(nil), c.Monitoring.Metrics...)
		m.Alerts = append([]AlertRule(nil), c.Monitoring.Alerts...)
		cp.Monitoring = &m
	}
	if c.Validation != nil {
		v := *c.Validation
		cp.Validation = &v
	}
	return &cp
}

func configKey(id, version string) string {
	return id + "@" + version
}

// ChangeType 配置变更类型
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeUpdated  ChangeType = "updated"
	ChangeRemoved  ChangeType = "removed"
	ChangeReloaded ChangeType = "reloaded"
)

// Diff 顶层字段差异（字段名取json名）
type Diff struct {
	Added    []string `json:"added,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Removed  []string `json:"removed,omitempty"`
}

// IsEmpty 是否没有差异
func (d Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// ChangeEvent 配置变更事件
type ChangeEvent struct {
	Type      ChangeType      `json:"type"`
	Key       string          `json:"key"`
	Diff      Diff            `json:"diff"`
	Previous  *WorkflowConfig `json:"previous,omitempty"`
	Current   *WorkflowConfig `json:"current,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Listener 变更监听器
type Listener func(ChangeEvent)
