package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，如 FLOW_CONTROL_SERVER_PORT
const EnvPrefix = "FLOW_CONTROL"

// Load 加载配置文件
// 文件不存在时返回默认配置；环境变量可以覆盖文件中的同名键
func Load(path string) (*ControlPlaneConfig, error) {
	cfg := &ControlPlaneConfig{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件失败: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// 使用默认配置
		default:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := ValidateControlPlaneConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides 使用viper读取环境变量覆盖
func applyEnvOverrides(cfg *ControlPlaneConfig) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	fc := &cfg.FlowControl
	if v.IsSet("general.log_level") {
		fc.General.LogLevel = v.GetString("general.log_level")
	}
	if v.IsSet("general.env") {
		fc.General.Env = v.GetString("general.env")
	}
	if v.IsSet("storage.database.type") {
		fc.Storage.Database.Type = v.GetString("storage.database.type")
	}
	if v.IsSet("storage.database.dsn") {
		fc.Storage.Database.DSN = v.GetString("storage.database.dsn")
	}
	if v.IsSet("lifecycle.max_concurrent_workflows") {
		fc.Lifecycle.MaxConcurrentWorkflows = v.GetInt("lifecycle.max_concurrent_workflows")
	}
	if v.IsSet("scheduler.dir") {
		fc.Scheduler.Dir = v.GetString("scheduler.dir")
	}
	if v.IsSet("policy.dir") {
		fc.Policy.Dir = v.GetString("policy.dir")
	}
	if v.IsSet("security.default_policy") {
		fc.Security.DefaultPolicy = v.GetString("security.default_policy")
	}
	if v.IsSet("security.jwt_secret") {
		fc.Security.JWTSecret = v.GetString("security.jwt_secret")
	}
	if v.IsSet("security.admin_password") {
		fc.Security.AdminPassword = v.GetString("security.admin_password")
	}
	if v.IsSet("server.host") {
		fc.Server.Host = v.GetString("server.host")
	}
	if v.IsSet("server.port") {
		fc.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("host.webhook_url") {
		fc.Host.WebhookURL = v.GetString("host.webhook_url")
	}
	return nil
}
