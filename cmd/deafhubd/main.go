package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"DeafFirst-Hub/internal/config"
)

// main 是 DeafFirst Hub 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Fatalf("deafhubd 运行失败: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "deafhubd",
		Short:         "DeafFirst Hub: webhook 分发、命令路由与连接器管理",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "JSON 配置文件路径")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}
	root.AddCommand(
		newServeCommand(load),
		newResolveCommand(load),
		newConnectorsCommand(load),
		newTokenCommand(load),
	)
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), load)
	}
	return root
}

func defaultConfigPath() string {
	if path := os.Getenv("DEAFHUB_CONFIG"); path != "" {
		return path
	}
	return filepath.Join("configs", "deafhub.json")
}
