// Package main 是服务端的入口点
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// 版本信息，构建时通过 ldflags 注入
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "papyrus",
		Short:         "Papyrus 文档问答服务",
		Long:          "Papyrus 让登录用户上传 PDF 并围绕文档内容与大模型对话，对话记录持久保存。",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "./configs", "配置文件目录")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "打印版本信息",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "papyrus %s (commit: %s)\n", Version, Commit)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
