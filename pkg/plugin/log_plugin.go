package plugin

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/LENAX/flow-control/pkg/logging"
)

// LogPlugin 将事件写入结构化日志
type LogPlugin struct {
	logger watermill.LoggerAdapter
}

// NewLogPlugin 创建日志插件
func NewLogPlugin(logger watermill.LoggerAdapter) *LogPlugin {
	return &LogPlugin{logger: logging.OrNop(logger)}
}

// Name 插件名称
func (p *LogPlugin) Name() string {
	return "log"
}

// Init 日志插件无需参数
func (p *LogPlugin) Init(params map[string]string) error {
	return nil
}

// Execute 写日志；失败与安全告警按错误级别输出
func (p *LogPlugin) Execute(data interface{}) error {
	d, ok := data.(PluginData)
	if !ok {
		return fmt.Errorf("插件数据类型错误")
	}
	fields := watermill.LogFields{
		"event":       string(d.Event),
		"workflow_id": d.WorkflowID,
		"version":     d.Version,
		"instance_id": d.InstanceID,
		"status":      d.Status,
	}
	if d.Severity != "" {
		fields["severity"] = d.Severity
	}

	switch d.Event {
	case EventWorkflowFailed, EventSecurityAlert:
		p.logger.Error("事件通知", fmt.Errorf("%s", d.Error), fields)
	default:
		p.logger.Info("事件通知", fields)
	}
	return nil
}
