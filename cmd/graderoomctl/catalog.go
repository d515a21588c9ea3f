package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/graderoom/graderoom/internal/model"
)

var catalogSchool string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "课程目录",
}

var catalogImportCmd = &cobra.Command{
	Use:     "import <file.xlsx>",
	Short:   "从 Excel 导入课程目录（第一行为表头，必须包含 class_name）",
	Example: `  graderoomctl catalog import --school bellarmine catalog.xlsx`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !model.ValidSchool(catalogSchool) {
			return fmt.Errorf("--school 不合法: %q", catalogSchool)
		}
		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("打开文件失败: %w", err)
		}
		defer file.Close()

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		catalog := a.services().Catalog
		rows, err := catalog.ParseImportFile(file)
		if err != nil {
			return err
		}
		resp, err := catalog.Import(cmd.Context(), catalogSchool, rows)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

func init() {
	catalogImportCmd.Flags().StringVar(&catalogSchool, "school", "", "学校（bellarmine / basis / ndsj）")
	_ = catalogImportCmd.MarkFlagRequired("school")

	catalogCmd.AddCommand(catalogImportCmd)
}
