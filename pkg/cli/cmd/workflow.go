package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/cli/output"
)

var (
	executeData  string
	executeAsync bool
)

// workflowCmd workflow子命令
var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "工作流执行命令",
}

// workflowExecuteCmd 执行工作流
var workflowExecuteCmd = &cobra.Command{
	Use:   "execute <workflow-id> <version>",
	Short: "执行工作流",
	Long: `经控制面执行工作流：校验权限与输入，创建实例并调用执行宿主。

示例：
  flow-control workflow execute billing 1.0.0 --data '{"month":"2024-01"}'
  flow-control workflow execute billing 1.0.0 --async`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := dto.ExecuteWorkflowRequest{Async: executeAsync, Src: "cli"}
		if executeData != "" {
			if err := json.Unmarshal([]byte(executeData), &req.Data); err != nil {
				output.Error("--data 不是合法的JSON对象: %v", err)
				return err
			}
		}

		resp, err := newClient().ExecuteWorkflow(args[0], args[1], req)
		if err != nil {
			output.Error("执行失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(resp)
		}
		if executeAsync {
			output.Success("执行请求已提交，事件ID: %s", resp.EventID)
			return nil
		}
		output.Success("执行完成，实例: %s", resp.InstanceID)
		if resp.Result != nil {
			raw, _ := json.MarshalIndent(resp.Result, "", "  ")
			fmt.Println(string(raw))
		}
		return nil
	},
}

func init() {
	workflowExecuteCmd.Flags().StringVarP(&executeData, "data", "d", "", "输入数据（JSON对象）")
	workflowExecuteCmd.Flags().BoolVar(&executeAsync, "async", false, "经消息总线异步执行")

	workflowCmd.AddCommand(workflowExecuteCmd)
}
