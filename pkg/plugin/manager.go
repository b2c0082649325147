package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/LENAX/flow-control/pkg/core/lifecycle"
	"github.com/LENAX/flow-control/pkg/core/security"
	"github.com/LENAX/flow-control/pkg/logging"
)

// TriggerEvent 插件触发事件类型（对外导出）
type TriggerEvent string

const (
	// 实例生命周期事件
	EventWorkflowStarted   TriggerEvent = "workflow.started"
	EventWorkflowCompleted TriggerEvent = "workflow.completed"
	EventWorkflowFailed    TriggerEvent = "workflow.failed"
	EventWorkflowPaused    TriggerEvent = "workflow.paused"
	EventWorkflowResumed   TriggerEvent = "workflow.resumed"
	EventWorkflowCancelled TriggerEvent = "workflow.cancelled"
	EventWorkflowReady     TriggerEvent = "workflow.ready"

	// 安全事件
	EventSecurityAlert TriggerEvent = "security.alert"
)

var lifecycleTriggers = map[lifecycle.EventType]TriggerEvent{
	lifecycle.EventStarted:   EventWorkflowStarted,
	lifecycle.EventCompleted: EventWorkflowCompleted,
	lifecycle.EventFailed:    EventWorkflowFailed,
	lifecycle.EventPaused:    EventWorkflowPaused,
	lifecycle.EventResumed:   EventWorkflowResumed,
	lifecycle.EventCancelled: EventWorkflowCancelled,
	lifecycle.EventReady:     EventWorkflowReady,
}

// PluginBinding 插件绑定规则（对外导出）
type PluginBinding struct {
	PluginName string                     // 插件名称
	Event      TriggerEvent               // 触发事件
	Condition  func(data PluginData) bool // 可选：满足条件才触发
}

// PluginData 传递给插件的数据（对外导出）
type PluginData struct {
	Event      TriggerEvent
	WorkflowID string
	Version    string
	InstanceID string
	Status     string
	Severity   string // 安全事件严重程度
	Error      string
	Data       map[string]interface{}
}

// FromLifecycleEvent 转换生命周期事件，不关心的事件类型返回 false
func FromLifecycleEvent(ev lifecycle.Event) (PluginData, bool) {
	trigger, ok := lifecycleTriggers[ev.Type]
	if !ok {
		return PluginData{}, false
	}
	data := PluginData{
		Event:      trigger,
		WorkflowID: ev.WorkflowID,
		Version:    ev.Version,
		InstanceID: ev.InstanceID,
		Status:     string(ev.Status),
		Error:      ev.Error,
		Data:       map[string]interface{}{},
	}
	if ev.PreviousStatus != "" {
		data.Data["previousStatus"] = string(ev.PreviousStatus)
	}
	if ev.TriggeredBy != "" {
		data.Data["triggeredBy"] = ev.TriggeredBy
	}
	if ev.Instance != nil {
		if elapsed, ok := ev.Instance.ExecutionTime(); ok {
			data.Data["executionMs"] = elapsed.Milliseconds()
		}
	}
	return data, true
}

// FromSecurityEvent 转换安全事件
func FromSecurityEvent(ev security.SecurityEvent) PluginData {
	data := PluginData{
		Event:    EventSecurityAlert,
		Status:   string(ev.Type),
		Severity: string(ev.Severity),
		Error:    ev.Description,
		Data: map[string]interface{}{
			"eventId":  ev.ID,
			"userId":   ev.UserID,
			"resource": ev.Resource,
		},
	}
	for k, v := range ev.Details {
		data.Data[k] = v
	}
	return data
}

// Manager 插件管理器（对外导出）
type Manager struct {
	plugins  map[string]Plugin                // 插件名称 -> 插件实例
	bindings map[TriggerEvent][]PluginBinding // 事件类型 -> 绑定列表
	mu       sync.RWMutex
	logger   watermill.LoggerAdapter
}

// NewManager 创建插件管理器
func NewManager(logger watermill.LoggerAdapter) *Manager {
	return &Manager{
		plugins:  make(map[string]Plugin),
		bindings: make(map[TriggerEvent][]PluginBinding),
		logger:   logging.OrNop(logger),
	}
}

// Register 注册插件
func (pm *Manager) Register(plugin Plugin) error {
	if plugin == nil {
		return fmt.Errorf("插件不能为空")
	}
	name := plugin.Name()
	if name == "" {
		return fmt.Errorf("插件名称不能为空")
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, exists := pm.plugins[name]; exists {
		return fmt.Errorf("插件 %s 已注册", name)
	}
	pm.plugins[name] = plugin
	return nil
}

// RegisterWithInit 注册并初始化插件，初始化失败时撤销注册
func (pm *Manager) RegisterWithInit(plugin Plugin, params map[string]string) error {
	if err := pm.Register(plugin); err != nil {
		return err
	}
	if err := plugin.Init(params); err != nil {
		pm.mu.Lock()
		delete(pm.plugins, plugin.Name())
		pm.mu.Unlock()
		return fmt.Errorf("插件 %s 初始化失败: %w", plugin.Name(), err)
	}
	return nil
}

// Bind 绑定插件到事件
func (pm *Manager) Bind(binding PluginBinding) error {
	if binding.PluginName == "" {
		return fmt.Errorf("插件名称不能为空")
	}
	if binding.Event == "" {
		return fmt.Errorf("触发事件不能为空")
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, exists := pm.plugins[binding.PluginName]; !exists {
		return fmt.Errorf("插件 %s 未注册", binding.PluginName)
	}
	pm.bindings[binding.Event] = append(pm.bindings[binding.Event], binding)
	return nil
}

// Trigger 依次执行绑定到该事件的插件，汇总全部失败
func (pm *Manager) Trigger(ctx context.Context, event TriggerEvent, data PluginData) error {
	pm.mu.RLock()
	bindings := append([]PluginBinding(nil), pm.bindings[event]...)
	pm.mu.RUnlock()

	var errs []error
	for _, binding := range bindings {
		if binding.Condition != nil && !binding.Condition(data) {
			continue
		}
		pm.mu.RLock()
		plugin, exists := pm.plugins[binding.PluginName]
		pm.mu.RUnlock()
		if !exists {
			continue
		}
		if err := plugin.Execute(data); err != nil {
			errs = append(errs, fmt.Errorf("插件 %s 执行失败: %w", binding.PluginName, err))
		}
	}
	return errors.Join(errs...)
}

// HandleLifecycle 生命周期监听器入口，插件失败只记录日志
func (pm *Manager) HandleLifecycle(ev lifecycle.Event) {
	data, ok := FromLifecycleEvent(ev)
	if !ok {
		return
	}
	if err := pm.Trigger(context.Background(), data.Event, data); err != nil {
		pm.logger.Error("插件处理生命周期事件失败", err, watermill.LogFields{"instance_id": ev.InstanceID, "event": string(ev.Type)})
	}
}

// HandleSecurity 安全事件监听器入口
func (pm *Manager) HandleSecurity(ev security.SecurityEvent) {
	data := FromSecurityEvent(ev)
	if err := pm.Trigger(context.Background(), data.Event, data); err != nil {
		pm.logger.Error("插件处理安全事件失败", err, watermill.LogFields{"event_id": ev.ID, "type": string(ev.Type)})
	}
}

// GetPlugin 获取已注册的插件
func (pm *Manager) GetPlugin(name string) (Plugin, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	plugin, exists := pm.plugins[name]
	return plugin, exists
}

// ListPlugins 按名称排序列出已注册的插件
func (pm *Manager) ListPlugins() []string {
	pm.mu.RLock()
	names := make([]string, 0, len(pm.plugins))
	for name := range pm.plugins {
		names = append(names, name)
	}
	pm.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Unregister 取消注册插件并移除其全部绑定
func (pm *Manager) Unregister(name string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.plugins[name]; !exists {
		return fmt.Errorf("插件 %s 未注册", name)
	}
	delete(pm.plugins, name)

	for event, bindings := range pm.bindings {
		filtered := bindings[:0]
		for _, binding := range bindings {
			if binding.PluginName != name {
				filtered = append(filtered, binding)
			}
		}
		pm.bindings[event] = filtered
	}
	return nil
}
