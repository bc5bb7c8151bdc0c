// Package main 是应用程序的入口点。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"learnpilot/internal/config"
	"learnpilot/pkg/database"
	"learnpilot/pkg/log"
)

var configPath string

var (
	rootCmd = &cobra.Command{
		Use:   "learnpilot",
		Short: "AI 学习助手后端服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP / WebSocket 服务与资料处理消费者",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "迁移数据库表结构后退出",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap 加载配置并初始化日志。
func bootstrap() config.Config {
	config.Init(configPath)
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	log.Info("日志记录器初始化成功")
	return cfg
}

func runMigrate() error {
	cfg := bootstrap()
	defer log.Sync()

	database.InitMySQL(cfg.Database.MySQL)
	if err := database.AutoMigrate(database.DB); err != nil {
		return err
	}
	log.Info("数据库迁移完成")
	return nil
}
