package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/KlutzyFella/Papyrus/internal/config"
	"github.com/KlutzyFella/Papyrus/internal/extractor"
	"github.com/KlutzyFella/Papyrus/internal/logger"
)

// newExtractCmd 在本地文件上运行文档解析，排查解析问题时使用
func newExtractCmd() *cobra.Command {
	var (
		backend   string
		mediaType string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "解析本地 PDF 并输出纯文本",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			extCfg := config.ExtractorConfig{Backend: backend, Timeout: timeout}
			if backend == "documentai" {
				// 云端解析需要配置文件中的项目和处理器
				configPath, _ := cmd.Flags().GetString("config")
				cfg, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				extCfg = cfg.Extractor
				extCfg.Backend = backend
				extCfg.Timeout = timeout
			}

			log, err := logger.New("warn", "console")
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			svc, err := extractor.New(ctx, extCfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()

			text, err := svc.Extract(ctx, data, mediaType)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&backend, "backend", "b", "local", "解析后端: local / documentai")
	cmd.Flags().StringVar(&mediaType, "media-type", extractor.MediaTypePDF, "声明的媒体类型")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "解析超时")
	return cmd
}
