package scheduler

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // 时区数据随二进制发布

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// 描述文件后缀
var descriptorSuffixes = []string{"-schedule.yaml", "-schedule.yml"}

// WorkflowRef 目标工作流引用
type WorkflowRef struct {
	ID        string `yaml:"id" json:"id"`
	Version   string `yaml:"version" json:"version"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// CronSpec 触发规则
type CronSpec struct {
	Cron     string `yaml:"cron" json:"cron"`
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	Enabled  *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// RetryPolicy 重试策略，Delay 单位为秒
type RetryPolicy struct {
	Attempts int `yaml:"attempts" json:"attempts"`
	Delay    int `yaml:"delay" json:"delay"`
}

// ScheduleConfig 定时计划描述文件（对外导出）
type ScheduleConfig struct {
	ID          string                 `yaml:"id" json:"id"`
	Name        string                 `yaml:"name" json:"name"`
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Workflow    WorkflowRef            `yaml:"workflow" json:"workflow"`
	Schedule    CronSpec               `yaml:"schedule" json:"schedule"`
	Properties  map[string]interface{} `yaml:"properties,omitempty" json:"properties,omitempty"`
	Retry       *RetryPolicy           `yaml:"retry,omitempty" json:"retry,omitempty"`
	// Timeout 单次尝试超时（秒），0表示不限制
	Timeout       int `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxConcurrent int `yaml:"maxConcurrent,omitempty" json:"maxConcurrent,omitempty"`
}

// IsDescriptorFile 判断文件名是否为定时计划描述文件
func IsDescriptorFile(name string) bool {
	for _, suffix := range descriptorSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// LoadDescriptor 读取并解析描述文件（不做校验）
func LoadDescriptor(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取描述文件失败: %w", err)
	}
	var cfg ScheduleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析描述文件失败: %w", err)
	}
	return &cfg, nil
}

// Enabled 未配置时默认启用
func (c *ScheduleConfig) Enabled() bool {
	return c.Schedule.Enabled == nil || *c.Schedule.Enabled
}

// Attempts 总尝试次数，至少1次
func (c *ScheduleConfig) Attempts() int {
	if c.Retry == nil || c.Retry.Attempts < 1 {
		return 1
	}
	return c.Retry.Attempts
}

// RetryDelay 两次尝试之间的等待时间
func (c *ScheduleConfig) RetryDelay() time.Duration {
	if c.Retry == nil || c.Retry.Delay <= 0 {
		return 0
	}
	return time.Duration(c.Retry.Delay) * time.Second
}

// AttemptTimeout 单次尝试超时
func (c *ScheduleConfig) AttemptTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 0
	}
	return time.Duration(c.Timeout) * time.Second
}

// Concurrency 允许同时运行的次数，默认1
func (c *ScheduleConfig) Concurrency() int {
	if c.MaxConcurrent < 1 {
		return 1
	}
	return c.MaxConcurrent
}

// CronSpecString 带时区前缀的表达式，交给 cron 解析
func (c *ScheduleConfig) CronSpecString() string {
	expr := strings.TrimSpace(c.Schedule.Cron)
	if c.Schedule.Timezone != "" && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		return fmt.Sprintf("CRON_TZ=%s %s", c.Schedule.Timezone, expr)
	}
	return expr
}

// Validate 校验必填字段、时区与Cron表达式，收集全部问题
func (c *ScheduleConfig) Validate(parser cron.Parser) (cron.Schedule, error) {
	var problems []string
	if strings.TrimSpace(c.ID) == "" {
		problems = append(problems, "缺少 id")
	}
	if strings.TrimSpace(c.Name) == "" {
		problems = append(problems, "缺少 name")
	}
	if strings.TrimSpace(c.Workflow.ID) == "" {
		problems = append(problems, "缺少 workflow.id")
	}
	if strings.TrimSpace(c.Workflow.Version) == "" {
		problems = append(problems, "缺少 workflow.version")
	}
	if strings.TrimSpace(c.Schedule.Cron) == "" {
		problems = append(problems, "缺少 schedule.cron")
	}
	if c.Retry != nil && (c.Retry.Attempts < 0 || c.Retry.Delay < 0) {
		problems = append(problems, "retry.attempts/retry.delay 不能为负数")
	}
	if c.Timeout < 0 {
		problems = append(problems, "timeout 不能为负数")
	}
	if c.MaxConcurrent < 0 {
		problems = append(problems, "maxConcurrent 不能为负数")
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("无效的时区 %s", c.Schedule.Timezone))
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSchedule, strings.Join(problems, "; "))
	}

	sched, err := parser.Parse(c.CronSpecString())
	if err != nil {
		return nil, fmt.Errorf("%w: Cron表达式 %q 无效: %v", ErrInvalidSchedule, c.Schedule.Cron, err)
	}
	return sched, nil
}

// NewParser 支持可选秒字段与 @every/@hourly 等描述符
func NewParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}
