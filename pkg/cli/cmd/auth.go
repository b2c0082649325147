package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LENAX/flow-control/pkg/cli/output"
)

var (
	loginUser     string
	loginPassword string
	loginQuiet    bool
)

// authCmd auth子命令
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "认证命令",
}

// authLoginCmd 登录
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "登录并获取访问令牌",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().Login(loginUser, loginPassword)
		if err != nil {
			output.Error("登录失败: %v", err)
			return err
		}
		if loginQuiet {
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		}
		if outputJSON {
			return output.PrintJSON(resp)
		}
		output.Success("登录成功: %s，令牌有效期至 %s", resp.UserID, resp.ExpiresAt.Format("2006-01-02 15:04:05"))
		fmt.Println(resp.Token)
		return nil
	},
}

func init() {
	authLoginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "用户名")
	authLoginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "密码")
	authLoginCmd.Flags().BoolVarP(&loginQuiet, "quiet", "q", false, "只输出令牌")
	_ = authLoginCmd.MarkFlagRequired("username")
	_ = authLoginCmd.MarkFlagRequired("password")

	authCmd.AddCommand(authLoginCmd)
}
