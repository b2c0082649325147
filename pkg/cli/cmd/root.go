package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/LENAX/flow-control/pkg/cli/client"
)

var (
	// 全局变量
	serverURL  string
	authToken  string
	outputJSON bool
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "flow-control",
	Short: "Flow Control CLI - 工作流编排控制面命令行工具",
	Long: `Flow Control CLI 用于运行和管理工作流编排控制面。

支持的功能：
  - 启动控制面与HTTP API服务
  - 执行工作流（同步或经消息总线异步）
  - 管理Instance（列出、查看状态、暂停、恢复、取消）
  - 管理定时计划（列出、启动、停止、立即触发、重新加载）
  - 导出工作流配置

使用示例：
  # 启动服务
  flow-control server start --config ./configs/flow-control.yaml

  # 登录并保存令牌到环境变量
  export FLOW_CONTROL_TOKEN=$(flow-control auth login -u admin -p secret --quiet)

  # 查看运行中的Instance
  flow-control instance list --status RUNNING

  # 立即触发定时计划
  flow-control schedule trigger nightly-report`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(serverURL, authToken)
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "控制面服务器地址")
	rootCmd.PersistentFlags().StringVarP(&authToken, "token", "t", os.Getenv("FLOW_CONTROL_TOKEN"), "访问令牌，默认读取 FLOW_CONTROL_TOKEN")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")

	// 添加子命令
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(instanceCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
