package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/LENAX/flow-control/pkg/cli/output"
)

var (
	exportFormat string
	exportFile   string
)

// configCmd config子命令
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "工作流配置命令",
}

// configListCmd 列出配置
var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出工作流配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := newClient().ListConfigs()
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(configs)
		}
		if len(configs) == 0 {
			output.Info("暂无工作流配置")
			return nil
		}

		table := output.NewTable([]string{"ID", "VERSION", "ENABLED", "PRIORITY", "CONCURRENCY", "RETRIES", "TIMEOUT"})
		for _, c := range configs {
			table.AddRow([]string{
				c.ID,
				c.Version,
				strconv.FormatBool(c.Enabled),
				string(c.Priority),
				strconv.Itoa(c.Concurrency),
				strconv.Itoa(c.MaxRetries),
				fmt.Sprintf("%dms", c.Timeout),
			})
		}
		table.Render()
		return nil
	},
}

// configExportCmd 导出配置
var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "导出全部工作流配置",
	Long: `导出全部工作流配置为 JSON 或 YAML。

示例：
  flow-control config export --format yaml -o workflows.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := newClient().ExportConfigs(exportFormat)
		if err != nil {
			output.Error("导出失败: %v", err)
			return err
		}
		if exportFile == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(exportFile, data, 0o644); err != nil {
			output.Error("写入文件失败: %v", err)
			return err
		}
		output.Success("已导出到 %s", exportFile)
		return nil
	},
}

func init() {
	configExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "导出格式 (json/yaml)")
	configExportCmd.Flags().StringVarP(&exportFile, "output", "o", "", "输出文件，默认标准输出")

	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configExportCmd)
}
