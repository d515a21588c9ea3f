package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "同步错误",
}

var errorsLookupCmd = &cobra.Command{
	Use:   "lookup <code>",
	Short: "按错误码查询（3 位为用户错误，6 位为系统错误）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := strconv.Atoi(args[0])
		if err != nil || code <= 0 {
			return fmt.Errorf("错误码必须为正整数: %q", args[0])
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		resp, err := a.services().Error.Lookup(cmd.Context(), code)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

func init() {
	errorsCmd.AddCommand(errorsLookupCmd)
}
