package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/LENAX/flow-control/pkg/api"
	"github.com/LENAX/flow-control/pkg/cli/output"
	"github.com/LENAX/flow-control/pkg/config"
	"github.com/LENAX/flow-control/pkg/logging"
)

var (
	serverPort int
	serverHost string
	configPath string
	webhookURL string
)

// 未指定 --config 时依次尝试的路径
var defaultConfigPaths = []string{
	"./configs/flow-control.yaml",
	"./config/flow-control.yaml",
	"./flow-control.yaml",
}

// serverCmd server子命令
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "服务管理命令",
	Long:  `运行编排控制面与HTTP API服务。`,
}

// serverStartCmd 启动服务
var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动控制面与HTTP API服务",
	Long: `启动编排控制面与HTTP API服务。

示例：
  # 使用默认配置启动（内存存储、回显执行宿主）
  flow-control server start

  # 指定配置文件与端口
  flow-control server start --config ./configs/flow-control.yaml --port 9090

  # 把工作流执行转发给外部宿主
  flow-control server start --webhook http://localhost:9000/run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServerConfig(cmd)
		if err != nil {
			output.Error("加载配置失败: %v", err)
			return err
		}

		gin.SetMode(gin.ReleaseMode)
		logger := logging.NewLogger(cfg.FlowControl.General.LogLevel)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		output.Success("Flow Control Server starting on %s:%d", cfg.FlowControl.Server.Host, cfg.FlowControl.Server.Port)
		if err := api.Run(ctx, cfg, nil, Version, logger); err != nil {
			output.Error("服务异常退出: %v", err)
			return err
		}
		output.Success("服务已停止")
		return nil
	},
}

// loadServerConfig 读取配置文件，命令行参数覆盖文件与环境变量
func loadServerConfig(cmd *cobra.Command) (*config.ControlPlaneConfig, error) {
	path := configPath
	if path == "" {
		for _, p := range defaultConfigPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		output.Info("使用配置文件: %s", path)
	} else {
		output.Warning("未找到配置文件，使用默认配置")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	fc := &cfg.FlowControl
	if cmd.Flags().Changed("host") {
		fc.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		fc.Server.Port = serverPort
	}
	if cmd.Flags().Changed("webhook") {
		fc.Host.WebhookURL = webhookURL
	}
	return cfg, config.ValidateControlPlaneConfig(cfg)
}

func init() {
	serverStartCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "监听端口")
	serverStartCmd.Flags().StringVarP(&serverHost, "host", "H", "0.0.0.0", "监听地址")
	serverStartCmd.Flags().StringVarP(&configPath, "config", "c", "", "配置文件路径")
	serverStartCmd.Flags().StringVar(&webhookURL, "webhook", "", "执行宿主的webhook地址")

	serverCmd.AddCommand(serverStartCmd)
}
