// Package cli 实现 securag 命令行：入库、交互式对话与安全评估。
package cli

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/bootstrap"
	"github.com/securag/securag/internal/config"
	"github.com/securag/securag/internal/logger"
)

type rootOptions struct {
	envFile  string
	logLevel string
}

// NewRootCommand 构建 securag 根命令。
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "securag",
		Short:         "Conversational RAG with layered guardrails",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile == "" {
				return nil
			}
			if err := godotenv.Load(opts.envFile); err != nil {
				// .env 是可选的，缺失时只使用系统环境变量
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to load %s: %v\n", opts.envFile, err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading configuration")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		newIngestCommand(opts),
		newChatCommand(opts),
		newRedteamCommand(opts),
	)
	return root
}

// Execute 运行根命令。
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// openContainer 加载配置并组装流水线，调用方负责 Close。
func openContainer(ctx context.Context, opts *rootOptions) (*bootstrap.Container, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	log := logger.New(logger.Options{
		Level:      level,
		FilePath:   cfg.Log.File,
		Production: cfg.Log.Production,
	})

	c, err := bootstrap.New(ctx, cfg, bootstrap.Options{}, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return c, log, nil
}
