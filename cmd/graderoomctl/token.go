package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/graderoom/graderoom/internal/repository"
	"github.com/graderoom/graderoom/pkg/jwt"
)

var (
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "调用方 Token",
}

var tokenIssueCmd = &cobra.Command{
	Use:     "issue <username>",
	Short:   "签发访问 Token（不连接数据库）",
	Example: `  graderoomctl token issue admin --role admin --ttl 1h`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenRole != jwt.RoleUser && tokenRole != jwt.RoleAdmin {
			return fmt.Errorf("--role 只能为 %s 或 %s", jwt.RoleUser, jwt.RoleAdmin)
		}
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := jwt.NewManager(&cfg.Auth).Issue(repository.NormalizeUsername(args[0]), tokenRole, tokenTTL)
		if err != nil {
			return fmt.Errorf("签发 Token 失败: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenRole, "role", jwt.RoleUser, "角色（user / admin）")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "有效期，0 表示使用配置值")

	tokenCmd.AddCommand(tokenIssueCmd)
}
