package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `flow-control:
  general:
    instance_name: edge-01
    log_level: debug
  storage:
    database:
      type: sqlite
      dsn: ./data/test.db
  lifecycle:
    max_concurrent_workflows: 3
    max_workflow_duration: 2h
  scheduler:
    dir: ./sched
    auto_start: false
  security:
    default_policy: deny
    jwt_secret: s3cret
  policy:
    dir: ./wf
    hot_reload: true
  server:
    port: 9090
  host:
    webhook_url: http://127.0.0.1:9000/run
    headers:
      X-Token: abc
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow-control.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	fc := cfg.FlowControl
	assert.Equal(t, "flow-control", fc.General.InstanceName)
	assert.Equal(t, "memory", cfg.GetDatabaseType())
	assert.Equal(t, 10, fc.Lifecycle.MaxConcurrentWorkflows)
	assert.Equal(t, "./schedules", fc.Scheduler.Dir)
	assert.Equal(t, "./configs/workflows", fc.Policy.Dir)
	assert.Equal(t, "allow", fc.Security.DefaultPolicy)
	assert.Equal(t, 8080, fc.Server.Port)
	assert.Equal(t, 5*time.Minute, fc.Host.Timeout)
	assert.True(t, cfg.SchedulerAutoStart())
	assert.True(t, cfg.SeedSampleData())
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	fc := cfg.FlowControl
	assert.Equal(t, "edge-01", fc.General.InstanceName)
	assert.Equal(t, "debug", fc.General.LogLevel)
	assert.Equal(t, "sqlite", cfg.GetDatabaseType())
	assert.Equal(t, "./data/test.db", cfg.GetDatabaseDSN())
	assert.Equal(t, 3, fc.Lifecycle.MaxConcurrentWorkflows)
	assert.Equal(t, 2*time.Hour, fc.Lifecycle.MaxWorkflowDuration)
	assert.False(t, cfg.SchedulerAutoStart())
	assert.Equal(t, "deny", fc.Security.DefaultPolicy)
	assert.Equal(t, "s3cret", fc.Security.JWTSecret)
	assert.True(t, fc.Policy.HotReload)
	assert.Equal(t, 9090, fc.Server.Port)
	assert.Equal(t, "http://127.0.0.1:9000/run", fc.Host.WebhookURL)
	assert.Equal(t, "abc", fc.Host.Headers["X-Token"])
	// 未配置的键仍然取默认值
	assert.Equal(t, 30*time.Second, fc.Server.ReadTimeout)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "flow-control: [unclosed"))
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FLOW_CONTROL_SERVER_PORT", "7070")
	t.Setenv("FLOW_CONTROL_SECURITY_DEFAULT_POLICY", "deny")
	t.Setenv("FLOW_CONTROL_HOST_WEBHOOK_URL", "https://hooks.example.com/flow")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.FlowControl.Server.Port)
	assert.Equal(t, "deny", cfg.FlowControl.Security.DefaultPolicy)
	assert.Equal(t, "https://hooks.example.com/flow", cfg.FlowControl.Host.WebhookURL)
}

func TestValidateControlPlaneConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *ControlPlaneConfig)
		wantErr string
	}{
		{name: "默认配置合法", mutate: func(*ControlPlaneConfig) {}},
		{
			name:    "日志级别非法",
			mutate:  func(cfg *ControlPlaneConfig) { cfg.FlowControl.General.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "数据库类型非法",
			mutate:  func(cfg *ControlPlaneConfig) { cfg.FlowControl.Storage.Database.Type = "oracle" },
			wantErr: "database.type",
		},
		{
			name:    "持久化存储缺少DSN",
			mutate:  func(cfg *ControlPlaneConfig) { cfg.FlowControl.Storage.Database.Type = "postgres" },
			wantErr: "database.dsn",
		},
		{
			name:    "端口越界",
			mutate:  func(cfg *ControlPlaneConfig) { cfg.FlowControl.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "权限策略非法",
			mutate:  func(cfg *ControlPlaneConfig) { cfg.FlowControl.Security.DefaultPolicy = "maybe" },
			wantErr: "default_policy",
		},
		{
			name: "保留条数大于上限",
			mutate: func(cfg *ControlPlaneConfig) {
				cfg.FlowControl.Security.AuditLogKeep = cfg.FlowControl.Security.AuditLogLimit + 1
			},
			wantErr: "audit_log_keep",
		},
		{
			name:    "CPU阈值超过100",
			mutate:  func(cfg *ControlPlaneConfig) { cfg.FlowControl.Lifecycle.Thresholds.CPUPercent = 120 },
			wantErr: "cpu_percent",
		},
		{
			name:    "邮件告警缺少收件人",
			mutate:  func(cfg *ControlPlaneConfig) { cfg.FlowControl.Alert.Email.Enabled = true },
			wantErr: "alert.email",
		},
		{
			name:    "webhook地址不是http",
			mutate:  func(cfg *ControlPlaneConfig) { cfg.FlowControl.Host.WebhookURL = "ftp://example.com/run" },
			wantErr: "webhook_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := ValidateControlPlaneConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEmailParams(t *testing.T) {
	var alert AlertSection
	alert.Email.SMTPHost = "smtp.example.com"
	alert.Email.SMTPPort = 587
	alert.Email.From = "alerts@example.com"
	alert.Email.To = []string{"a@example.com", "b@example.com"}

	params := alert.EmailParams()
	assert.Equal(t, "smtp.example.com", params["smtp_host"])
	assert.Equal(t, "587", params["smtp_port"])
	assert.Equal(t, "a@example.com,b@example.com", params["to"])
}

func TestNilConfigInvalid(t *testing.T) {
	assert.Error(t, ValidateControlPlaneConfig(nil))
}
