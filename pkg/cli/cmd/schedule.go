package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/LENAX/flow-control/pkg/cli/output"
	"github.com/LENAX/flow-control/pkg/core/scheduler"
)

// scheduleCmd schedule子命令
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "定时计划管理命令",
	Long:  `查看和控制由描述文件定义的定时计划。`,
}

// scheduleListCmd 列出计划
var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出全部定时计划",
	RunE: func(cmd *cobra.Command, args []string) error {
		schedules, err := newClient().ListSchedules()
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(schedules)
		}
		if len(schedules) == 0 {
			output.Info("暂无定时计划")
			return nil
		}

		table := output.NewTable([]string{"ID", "WORKFLOW", "CRON", "ARMED", "RUNNING", "RUNS", "ERRORS", "NEXT_RUN"})
		for _, s := range schedules {
			table.AddRow(scheduleRow(s))
		}
		table.Render()
		return nil
	},
}

// scheduleStartCmd 装载计划
var scheduleStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "装载定时计划",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := newClient().StartSchedule(args[0])
		if err != nil {
			output.Error("启动失败: %v", err)
			return err
		}
		output.Success("定时计划已启动: %s，下次执行 %s", args[0], formatNextRun(info))
		return nil
	},
}

// scheduleStopCmd 卸载计划
var scheduleStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "停止定时计划",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := newClient().StopSchedule(args[0]); err != nil {
			output.Error("停止失败: %v", err)
			return err
		}
		output.Success("定时计划已停止: %s", args[0])
		return nil
	},
}

// scheduleTriggerCmd 立即执行
var scheduleTriggerCmd = &cobra.Command{
	Use:   "trigger <id>",
	Short: "立即执行一次定时计划",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().TriggerSchedule(args[0]); err != nil {
			output.Error("触发失败: %v", err)
			return err
		}
		output.Success("已触发: %s", args[0])
		return nil
	},
}

// scheduleReloadCmd 重新加载
var scheduleReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "重新扫描描述文件目录",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := newClient().ReloadSchedules()
		if err != nil {
			output.Error("重新加载失败: %v", err)
			return err
		}
		output.Success("重新加载完成: 共 %d 个计划，%d 个已装载", stats.TotalSchedules, stats.ActiveSchedules)
		return nil
	},
}

func scheduleRow(s scheduler.ScheduleInfo) []string {
	return []string{
		s.Config.ID,
		fmt.Sprintf("%s@%s", s.Config.Workflow.ID, s.Config.Workflow.Version),
		s.Config.Schedule.Cron,
		strconv.FormatBool(s.Armed),
		strconv.Itoa(s.ActiveRuns),
		strconv.FormatInt(s.RunCount, 10),
		strconv.FormatInt(s.ErrorCount, 10),
		formatNextRun(&s),
	}
}

func formatNextRun(info *scheduler.ScheduleInfo) string {
	if info == nil || info.NextRun == nil {
		return "-"
	}
	return info.NextRun.Format("2006-01-02 15:04:05")
}

func init() {
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleStartCmd)
	scheduleCmd.AddCommand(scheduleStopCmd)
	scheduleCmd.AddCommand(scheduleTriggerCmd)
	scheduleCmd.AddCommand(scheduleReloadCmd)
}
