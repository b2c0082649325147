// Package plugin 将生命周期与安全事件分发给可插拔的通知插件（日志、邮件告警）
package plugin

// Plugin 插件基础接口（对外导出）
type Plugin interface {
	// Name 插件名称
	Name() string
	// Init 使用参数初始化插件
	Init(params map[string]string) error
	// Execute 执行插件逻辑，data 为 PluginData
	Execute(data interface{}) error
}
