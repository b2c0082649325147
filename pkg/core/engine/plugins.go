package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/LENAX/flow-control/pkg/core/lifecycle"
	"github.com/LENAX/flow-control/pkg/core/security"
	"github.com/LENAX/flow-control/pkg/plugin"
)

var lifecycleTriggers = []plugin.TriggerEvent{
	plugin.EventWorkflowStarted,
	plugin.EventWorkflowCompleted,
	plugin.EventWorkflowFailed,
	plugin.EventWorkflowPaused,
	plugin.EventWorkflowResumed,
	plugin.EventWorkflowCancelled,
	plugin.EventWorkflowReady,
}

// setupPlugins 日志插件接收全部事件；邮件插件只在配置启用时注册，
// 按工作流配置中的告警规则与安全事件严重程度过滤
func (cp *ControlPlane) setupPlugins() error {
	logPlugin := plugin.NewLogPlugin(cp.logger)
	if err := cp.plugins.RegisterWithInit(logPlugin, nil); err != nil {
		return err
	}
	for _, trigger := range append(lifecycleTriggers, plugin.EventSecurityAlert) {
		if err := cp.plugins.Bind(plugin.PluginBinding{PluginName: logPlugin.Name(), Event: trigger}); err != nil {
			return err
		}
	}

	if email := cp.cfg.FlowControl.Alert; email.Email.Enabled {
		p := plugin.NewEmailPlugin().WithSender(cp.emailSender)
		if err := cp.plugins.RegisterWithInit(p, email.EmailParams()); err != nil {
			return err
		}
		bindings := []plugin.PluginBinding{
			{PluginName: p.Name(), Event: plugin.EventWorkflowFailed, Condition: cp.alertCondition(p.Name())},
			{PluginName: p.Name(), Event: plugin.EventWorkflowCompleted, Condition: cp.alertCondition(p.Name())},
			{PluginName: p.Name(), Event: plugin.EventSecurityAlert, Condition: severeSecurityEvent},
		}
		for _, b := range bindings {
			if err := cp.plugins.Bind(b); err != nil {
				return err
			}
		}
	}

	for _, p := range cp.extraPlugins {
		if err := cp.plugins.Register(p); err != nil {
			return fmt.Errorf("注册插件失败: %w", err)
		}
	}
	return nil
}

func severeSecurityEvent(d plugin.PluginData) bool {
	return d.Severity == string(security.SeverityHigh) || d.Severity == string(security.SeverityCritical)
}

// alertCondition 读取实例所属工作流当前的监控配置，判断是否命中发往 channel 的告警规则
// failure: 任意失败；timeout: 因超时失败；duration: 完成耗时超过 threshold 毫秒
func (cp *ControlPlane) alertCondition(channel string) func(plugin.PluginData) bool {
	return func(d plugin.PluginData) bool {
		wcfg, err := cp.policies.Get(d.WorkflowID, d.Version)
		if err != nil || wcfg.Monitoring == nil || !wcfg.Monitoring.Enabled {
			return false
		}
		for _, rule := range wcfg.Monitoring.Alerts {
			target := rule.Channel
			if target == "" {
				target = "log"
			}
			if target != channel {
				continue
			}
			switch rule.Type {
			case "failure":
				if d.Event == plugin.EventWorkflowFailed {
					return true
				}
			case "timeout":
				if d.Event == plugin.EventWorkflowFailed && isTimeout(d.Error) {
					return true
				}
			case "duration":
				if d.Event != plugin.EventWorkflowCompleted {
					continue
				}
				if elapsed, ok := executionMs(d.Data["executionMs"]); ok && elapsed > rule.Threshold {
					return true
				}
			}
		}
		return false
	}
}

func isTimeout(msg string) bool {
	return strings.Contains(msg, context.DeadlineExceeded.Error()) ||
		strings.Contains(msg, lifecycle.ErrWorkflowTimeout.Error()) ||
		strings.Contains(msg, "执行超时")
}

// executionMs 经总线传递后数字会变成 float64
func executionMs(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
