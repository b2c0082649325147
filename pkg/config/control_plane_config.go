package config

import (
	"strconv"
	"strings"
	"time"
)

// ControlPlaneConfig 编排控制面框架配置（对外导出）
type ControlPlaneConfig struct {
	FlowControl struct {
		General struct {
			InstanceName string `yaml:"instance_name" mapstructure:"instance_name"`
			LogLevel     string `yaml:"log_level" mapstructure:"log_level"`
			Env          string `yaml:"env" mapstructure:"env"`
		} `yaml:"general" mapstructure:"general"`
		Storage struct {
			Database struct {
				Type            string        `yaml:"type" mapstructure:"type"`
				DSN             string        `yaml:"dsn" mapstructure:"dsn"`
				MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
				MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
				ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
			} `yaml:"database" mapstructure:"database"`
		} `yaml:"storage" mapstructure:"storage"`
		Lifecycle LifecycleSection `yaml:"lifecycle" mapstructure:"lifecycle"`
		Scheduler SchedulerSection `yaml:"scheduler" mapstructure:"scheduler"`
		Security  SecuritySection  `yaml:"security" mapstructure:"security"`
		Policy    PolicySection    `yaml:"policy" mapstructure:"policy"`
		Server    ServerSection    `yaml:"server" mapstructure:"server"`
		Alert     AlertSection     `yaml:"alert" mapstructure:"alert"`
		Host      HostSection      `yaml:"host" mapstructure:"host"`
	} `yaml:"flow-control" mapstructure:"flow-control"`
}

// LifecycleSection 生命周期管理配置
type LifecycleSection struct {
	MaxConcurrentWorkflows int           `yaml:"max_concurrent_workflows" mapstructure:"max_concurrent_workflows"`
	MaxWorkflowDuration    time.Duration `yaml:"max_workflow_duration" mapstructure:"max_workflow_duration"`
	CleanupInterval        time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	StatusUpdateInterval   time.Duration `yaml:"status_update_interval" mapstructure:"status_update_interval"`
	Thresholds             struct {
		MemoryMB   float64 `yaml:"memory_mb" mapstructure:"memory_mb"`
		CPUPercent float64 `yaml:"cpu_percent" mapstructure:"cpu_percent"`
		DiskMB     float64 `yaml:"disk_mb" mapstructure:"disk_mb"`
	} `yaml:"thresholds" mapstructure:"thresholds"`
	// DefaultUsage 未上报资源占用时，每个运行中实例的估算值
	DefaultUsage struct {
		MemoryMB   float64 `yaml:"memory_mb" mapstructure:"memory_mb"`
		CPUPercent float64 `yaml:"cpu_percent" mapstructure:"cpu_percent"`
		DiskMB     float64 `yaml:"disk_mb" mapstructure:"disk_mb"`
	} `yaml:"default_usage" mapstructure:"default_usage"`
}

// SchedulerSection 定时调度配置
type SchedulerSection struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	AutoStart *bool  `yaml:"auto_start" mapstructure:"auto_start"`
}

// SecuritySection 安全管理配置
type SecuritySection struct {
	DefaultPolicy          string        `yaml:"default_policy" mapstructure:"default_policy"` // allow/deny
	MaxRequestSize         int           `yaml:"max_request_size" mapstructure:"max_request_size"`
	AuditLogLimit          int           `yaml:"audit_log_limit" mapstructure:"audit_log_limit"`
	AuditLogKeep           int           `yaml:"audit_log_keep" mapstructure:"audit_log_keep"`
	EventLimit             int           `yaml:"event_limit" mapstructure:"event_limit"`
	EventKeep              int           `yaml:"event_keep" mapstructure:"event_keep"`
	AuditSweepInterval     time.Duration `yaml:"audit_sweep_interval" mapstructure:"audit_sweep_interval"`
	EventSweepInterval     time.Duration `yaml:"event_sweep_interval" mapstructure:"event_sweep_interval"`
	AuditRetention         time.Duration `yaml:"audit_retention" mapstructure:"audit_retention"`
	EventRetention         time.Duration `yaml:"event_retention" mapstructure:"event_retention"`
	RateLimitSweepInterval time.Duration `yaml:"rate_limit_sweep_interval" mapstructure:"rate_limit_sweep_interval"`
	SeedSampleData         *bool         `yaml:"seed_sample_data" mapstructure:"seed_sample_data"`
	AdminPassword          string        `yaml:"admin_password" mapstructure:"admin_password"` // 示例admin用户的登录密码，为空则不可登录
	JWTSecret              string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL               time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}

// PolicySection 工作流执行策略配置
type PolicySection struct {
	Dir            string `yaml:"dir" mapstructure:"dir"`
	HotReload      bool   `yaml:"hot_reload" mapstructure:"hot_reload"`
	BackupOnUpdate bool   `yaml:"backup_on_update" mapstructure:"backup_on_update"`
}

// HostSection 执行宿主：控制面把工作流执行请求 POST 到 webhook_url
// 未配置时 server start 使用只记录日志的回显宿主
type HostSection struct {
	WebhookURL string            `yaml:"webhook_url" mapstructure:"webhook_url"`
	Timeout    time.Duration     `yaml:"timeout" mapstructure:"timeout"`
	Headers    map[string]string `yaml:"headers" mapstructure:"headers"`
}

// ServerSection HTTP服务配置
type ServerSection struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// AlertSection 告警插件配置
type AlertSection struct {
	Email struct {
		Enabled  bool     `yaml:"enabled" mapstructure:"enabled"`
		SMTPHost string   `yaml:"smtp_host" mapstructure:"smtp_host"`
		SMTPPort int      `yaml:"smtp_port" mapstructure:"smtp_port"`
		Username string   `yaml:"username" mapstructure:"username"`
		Password string   `yaml:"password" mapstructure:"password"`
		From     string   `yaml:"from" mapstructure:"from"`
		To       []string `yaml:"to" mapstructure:"to"`
	} `yaml:"email" mapstructure:"email"`
}

// EmailParams 转换为邮件插件的初始化参数
func (a AlertSection) EmailParams() map[string]string {
	e := a.Email
	params := map[string]string{
		"smtp_host": e.SMTPHost,
		"username":  e.Username,
		"password":  e.Password,
		"from":      e.From,
		"to":        strings.Join(e.To, ","),
	}
	if e.SMTPPort > 0 {
		params["smtp_port"] = strconv.Itoa(e.SMTPPort)
	}
	return params
}

// GetDatabaseType 获取数据库类型
func (c *ControlPlaneConfig) GetDatabaseType() string {
	return c.FlowControl.Storage.Database.Type
}

// GetDatabaseDSN 获取数据库DSN
func (c *ControlPlaneConfig) GetDatabaseDSN() string {
	return c.FlowControl.Storage.Database.DSN
}

// SchedulerAutoStart 是否在初始化时自动装载定时器
func (c *ControlPlaneConfig) SchedulerAutoStart() bool {
	if c.FlowControl.Scheduler.AutoStart == nil {
		return true
	}
	return *c.FlowControl.Scheduler.AutoStart
}

// SeedSampleData 是否在启动时写入示例用户
func (c *ControlPlaneConfig) SeedSampleData() bool {
	if c.FlowControl.Security.SeedSampleData == nil {
		return true
	}
	return *c.FlowControl.Security.SeedSampleData
}

// Default 返回应用了默认值的配置
func Default() *ControlPlaneConfig {
	cfg := &ControlPlaneConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults 应用默认值
func (c *ControlPlaneConfig) ApplyDefaults() {
	fc := &c.FlowControl

	// General默认值
	if fc.General.InstanceName == "" {
		fc.General.InstanceName = "flow-control"
	}
	if fc.General.LogLevel == "" {
		fc.General.LogLevel = "info"
	}
	if fc.General.Env == "" {
		fc.General.Env = "dev"
	}

	// Database默认值（memory 表示不持久化）
	if fc.Storage.Database.Type == "" {
		fc.Storage.Database.Type = "memory"
	}
	if fc.Storage.Database.MaxOpenConns <= 0 {
		fc.Storage.Database.MaxOpenConns = 10
	}
	if fc.Storage.Database.MaxIdleConns <= 0 {
		fc.Storage.Database.MaxIdleConns = 5
	}
	if fc.Storage.Database.ConnMaxLifetime <= 0 {
		fc.Storage.Database.ConnMaxLifetime = 2 * time.Hour
	}

	// Lifecycle默认值
	lc := &fc.Lifecycle
	if lc.MaxConcurrentWorkflows <= 0 {
		lc.MaxConcurrentWorkflows = 10
	}
	if lc.MaxWorkflowDuration <= 0 {
		lc.MaxWorkflowDuration = 24 * time.Hour
	}
	if lc.CleanupInterval <= 0 {
		lc.CleanupInterval = 5 * time.Minute
	}
	if lc.StatusUpdateInterval <= 0 {
		lc.StatusUpdateInterval = 30 * time.Second
	}
	if lc.Thresholds.MemoryMB <= 0 {
		lc.Thresholds.MemoryMB = 8192
	}
	if lc.Thresholds.CPUPercent <= 0 {
		lc.Thresholds.CPUPercent = 80
	}
	if lc.Thresholds.DiskMB <= 0 {
		lc.Thresholds.DiskMB = 10240
	}

	// Scheduler默认值
	if fc.Scheduler.Dir == "" {
		fc.Scheduler.Dir = "./schedules"
	}

	// Security默认值
	sec := &fc.Security
	if sec.DefaultPolicy == "" {
		sec.DefaultPolicy = "allow"
	}
	if sec.MaxRequestSize <= 0 {
		sec.MaxRequestSize = 1 << 20
	}
	if sec.AuditLogLimit <= 0 {
		sec.AuditLogLimit = 10000
	}
	if sec.AuditLogKeep <= 0 {
		sec.AuditLogKeep = 5000
	}
	if sec.EventLimit <= 0 {
		sec.EventLimit = 1000
	}
	if sec.EventKeep <= 0 {
		sec.EventKeep = 500
	}
	if sec.AuditSweepInterval <= 0 {
		sec.AuditSweepInterval = time.Hour
	}
	if sec.EventSweepInterval <= 0 {
		sec.EventSweepInterval = 5 * time.Minute
	}
	if sec.AuditRetention <= 0 {
		sec.AuditRetention = 30 * 24 * time.Hour
	}
	if sec.EventRetention <= 0 {
		sec.EventRetention = 7 * 24 * time.Hour
	}
	if sec.RateLimitSweepInterval <= 0 {
		sec.RateLimitSweepInterval = time.Minute
	}
	if sec.TokenTTL <= 0 {
		sec.TokenTTL = 12 * time.Hour
	}

	// Policy默认值
	if fc.Policy.Dir == "" {
		fc.Policy.Dir = "./configs/workflows"
	}

	// Server默认值
	if fc.Server.Host == "" {
		fc.Server.Host = "0.0.0.0"
	}
	if fc.Server.Port <= 0 {
		fc.Server.Port = 8080
	}
	if fc.Server.ReadTimeout <= 0 {
		fc.Server.ReadTimeout = 30 * time.Second
	}
	if fc.Server.WriteTimeout <= 0 {
		fc.Server.WriteTimeout = 30 * time.Second
	}

	if fc.Host.Timeout <= 0 {
		fc.Host.Timeout = 5 * time.Minute
	}
}
