package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"OpenMCP-Wallet/internal/config"
	"OpenMCP-Wallet/pkg/logger"

	"github.com/spf13/cobra"
)

var version = "dev"

// main 是 walletd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Fatalf("walletd 运行失败: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "walletd",
		Short:         "钱包连接编排守护进程",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "配置文件路径")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if err := initLogger(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "启动钱包编排器与控制面 API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runServe(cmd.Context(), cfg)
		},
	}
	root.RunE = serve.RunE

	root.AddCommand(serve, newAgentCommand(load), newChainsCommand(load))
	return root
}

func defaultConfigPath() string {
	if path := os.Getenv("WALLETD_CONFIG"); path != "" {
		return path
	}
	return filepath.Join("configs", "walletd.json")
}

func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Service:     "walletd",
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	})
}
