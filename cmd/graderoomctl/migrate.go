package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "表结构与文档迁移",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "应用所有未执行的表结构迁移",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		sqlDB, err := a.db.DB()
		if err != nil {
			return err
		}
		if err := database.RunMigrations(sqlDB, a.logger); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "表结构已是最新版本")
		return nil
	},
}

var rollbackSteps int

var migrateDownCmd = &cobra.Command{
	Use:     "down",
	Short:   "回滚表结构迁移",
	Example: `  graderoomctl migrate down --steps 1`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		sqlDB, err := a.db.DB()
		if err != nil {
			return err
		}
		if err := database.RollbackMigrations(sqlDB, rollbackSteps, a.logger); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已回滚 %d 个版本\n", rollbackSteps)
		return nil
	},
}

var migrateSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "将所有落后的用户与课程文档升级到最新版本",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		classes, users, err := a.migrator().Sweep(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), dto.SweepResponse{
			Classes: dto.SweepCount(classes),
			Users:   dto.SweepCount(users),
		})
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "回滚的版本数")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateSweepCmd)
}
