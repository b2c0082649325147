package config

import (
	"fmt"
	"net/url"
)

// ValidateControlPlaneConfig 校验框架配置合法性
func ValidateControlPlaneConfig(cfg *ControlPlaneConfig) error {
	if cfg == nil {
		return fmt.Errorf("配置不能为空")
	}
	fc := &cfg.FlowControl

	// 校验General
	if fc.General.InstanceName == "" {
		return fmt.Errorf("instance_name不能为空")
	}
	if fc.General.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"trace": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[fc.General.LogLevel] {
			return fmt.Errorf("log_level必须是trace/debug/info/warn/error之一")
		}
	}

	// 校验Storage.Database
	validDBTypes := map[string]bool{
		"memory":     true,
		"sqlite":     true,
		"postgres":   true,
		"postgresql": true,
		"mysql":      true,
	}
	if !validDBTypes[fc.Storage.Database.Type] {
		return fmt.Errorf("database.type必须是memory/sqlite/postgres/mysql之一")
	}
	if fc.Storage.Database.Type != "memory" && fc.Storage.Database.DSN == "" {
		return fmt.Errorf("database.dsn不能为空")
	}
	if fc.Storage.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns不能为负数")
	}

	// 校验Lifecycle
	if fc.Lifecycle.MaxConcurrentWorkflows <= 0 {
		return fmt.Errorf("lifecycle.max_concurrent_workflows必须大于0")
	}
	if fc.Lifecycle.MaxWorkflowDuration <= 0 {
		return fmt.Errorf("lifecycle.max_workflow_duration必须大于0")
	}
	if fc.Lifecycle.Thresholds.CPUPercent > 100 {
		return fmt.Errorf("lifecycle.thresholds.cpu_percent不能超过100")
	}

	// 校验Security
	if fc.Security.DefaultPolicy != "allow" && fc.Security.DefaultPolicy != "deny" {
		return fmt.Errorf("security.default_policy必须是allow/deny之一")
	}
	if fc.Security.AuditLogKeep > fc.Security.AuditLogLimit {
		return fmt.Errorf("security.audit_log_keep不能大于audit_log_limit")
	}
	if fc.Security.EventKeep > fc.Security.EventLimit {
		return fmt.Errorf("security.event_keep不能大于event_limit")
	}

	// 校验Server
	if fc.Server.Port <= 0 || fc.Server.Port > 65535 {
		return fmt.Errorf("server.port必须在1-65535之间")
	}

	// 校验Alert
	if email := fc.Alert.Email; email.Enabled {
		if email.SMTPHost == "" || email.From == "" || len(email.To) == 0 {
			return fmt.Errorf("alert.email启用时smtp_host、from与to不能为空")
		}
	}

	// 校验Host
	if fc.Host.WebhookURL != "" {
		u, err := url.Parse(fc.Host.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("host.webhook_url必须是http(s)地址")
		}
	}

	return nil
}
