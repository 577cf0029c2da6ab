// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Corphon/SceneDirector/internal/app"
	"github.com/Corphon/SceneDirector/internal/config"
)

func main() {
	log.Println("🚀 启动 SceneDirector 服务器...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 配置加载完成，端口: %s, LLM: %s, 存储: %s", cfg.Port, cfg.LLM.Provider, cfg.Storage.Backend)

	// 收到中断信号时取消 ctx，正在运行的后台任务随之取消
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}
	defer a.Close()

	log.Printf("🔗 访问地址: http://localhost:%s/health", cfg.Port)
	if err := a.Serve(ctx); err != nil {
		log.Printf("❌ 服务器错误: %v", err)
		a.Close()
		os.Exit(1)
	}
	log.Println("✅ 服务器已停止")
}
