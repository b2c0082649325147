package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LENAX/flow-control/pkg/cli/output"
)

var (
	instanceStatus   string
	instanceWorkflow string
	instanceLimit    int
	instanceOffset   int
	cancelReason     string
)

// instanceCmd instance子命令
var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Instance管理命令",
	Long:  `管理工作流实例，包括查看状态、暂停、恢复和取消。`,
}

// instanceListCmd 列出Instance
var instanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出Instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newClient().ListInstances(strings.ToUpper(instanceStatus), instanceWorkflow, instanceLimit, instanceOffset)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无Instance")
			return nil
		}

		table := output.NewTable([]string{"INSTANCE_ID", "WORKFLOW", "VERSION", "STATUS", "PRIORITY", "CREATED", "DURATION"})
		for _, inst := range result.Items {
			duration := "-"
			if inst.Duration != "" {
				duration = inst.Duration
			}
			table.AddRow([]string{
				inst.ID,
				inst.WorkflowID,
				inst.Version,
				output.Status(inst.Status),
				inst.Priority,
				inst.CreatedAt.Format("2006-01-02 15:04:05"),
				duration,
			})
		}
		table.Render()
		if result.HasMore {
			fmt.Printf("\n共 %d 条，使用 --offset 查看更多\n", result.Total)
		}
		return nil
	},
}

// instanceStatusCmd 查看Instance状态
var instanceStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "查看Instance执行状态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := newClient().GetInstance(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(inst)
		}

		fmt.Printf("Instance: %s\n", inst.ID)
		fmt.Printf("Workflow: %s@%s\n", inst.WorkflowID, inst.Version)
		fmt.Printf("Status:   %s\n", output.Status(string(inst.Status)))
		fmt.Printf("Priority: %s\n", inst.Priority)
		fmt.Printf("Created:  %s\n", inst.CreatedAt.Format("2006-01-02 15:04:05"))
		if inst.StartedAt != nil {
			fmt.Printf("Started:  %s\n", inst.StartedAt.Format("2006-01-02 15:04:05"))
		}
		if inst.CompletedAt != nil {
			fmt.Printf("Finished: %s\n", inst.CompletedAt.Format("2006-01-02 15:04:05"))
		}
		if d, ok := inst.ExecutionTime(); ok {
			fmt.Printf("Duration: %s\n", d)
		}
		if inst.Error != "" {
			fmt.Printf("Error:    %s\n", inst.Error)
		}
		if len(inst.Dependencies) > 0 {
			fmt.Printf("Depends:  %s\n", strings.Join(inst.Dependencies, ", "))
		}
		if len(inst.Dependents) > 0 {
			fmt.Printf("Blocks:   %s\n", strings.Join(inst.Dependents, ", "))
		}
		if !inst.Resources.IsZero() {
			fmt.Printf("Resources: memory=%.0fMB cpu=%.1f%% disk=%.0fMB\n",
				inst.Resources.MemoryMB, inst.Resources.CPUPercent, inst.Resources.DiskMB)
		}
		return nil
	},
}

// instancePauseCmd 暂停Instance
var instancePauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "暂停Instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().PauseInstance(args[0]); err != nil {
			output.Error("暂停失败: %v", err)
			return err
		}
		output.Success("Instance已暂停: %s", args[0])
		return nil
	},
}

// instanceResumeCmd 恢复Instance
var instanceResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "恢复Instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().ResumeInstance(args[0]); err != nil {
			output.Error("恢复失败: %v", err)
			return err
		}
		output.Success("Instance已恢复: %s", args[0])
		return nil
	},
}

// instanceCancelCmd 取消Instance
var instanceCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "取消Instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().CancelInstance(args[0], cancelReason); err != nil {
			output.Error("取消失败: %v", err)
			return err
		}
		output.Success("Instance已取消: %s", args[0])
		return nil
	},
}

func init() {
	instanceListCmd.Flags().StringVar(&instanceStatus, "status", "", "按状态过滤 (PENDING/RUNNING/PAUSED/COMPLETED/FAILED/CANCELLED)")
	instanceListCmd.Flags().StringVarP(&instanceWorkflow, "workflow", "w", "", "按工作流ID过滤")
	instanceListCmd.Flags().IntVar(&instanceLimit, "limit", 20, "返回记录数量限制")
	instanceListCmd.Flags().IntVar(&instanceOffset, "offset", 0, "分页偏移")

	instanceCancelCmd.Flags().StringVarP(&cancelReason, "reason", "r", "cancelled via cli", "取消原因")

	// 添加子命令
	instanceCmd.AddCommand(instanceListCmd)
	instanceCmd.AddCommand(instanceStatusCmd)
	instanceCmd.AddCommand(instancePauseCmd)
	instanceCmd.AddCommand(instanceResumeCmd)
	instanceCmd.AddCommand(instanceCancelCmd)
}
