package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// 版本信息（编译时注入）
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var versionRemote bool

// versionCmd version命令，--remote 同时查询服务端版本
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Flow Control CLI\n")
		fmt.Fprintf(out, "  Version:    %s\n", Version)
		fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		if !versionRemote {
			return nil
		}

		health, err := newClient().Health()
		if err != nil {
			return fmt.Errorf("查询服务端版本失败: %w", err)
		}
		fmt.Fprintf(out, "Server (%s)\n", serverURL)
		fmt.Fprintf(out, "  Version:    %s\n", health.Version)
		fmt.Fprintf(out, "  Status:     %s\n", health.Status)
		fmt.Fprintf(out, "  Uptime:     %s\n", health.Uptime)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionRemote, "remote", false, "同时显示服务端版本")
}
