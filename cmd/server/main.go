// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wenren-ai/wenren/internal/api"
	"github.com/wenren-ai/wenren/internal/app"
	"github.com/wenren-ai/wenren/internal/config"
	"github.com/wenren-ai/wenren/internal/utils"
)

func main() {
	log.Println("启动文人对谈服务器...")

	// 1. 加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 2. 创建必要的目录
	createDirectories(baseConfig)

	// 3. 初始化日志
	logFile := filepath.Join(baseConfig.LogDir, time.Now().Format("2006-01-02")+".log")
	if err := utils.InitLogger(logFile); err != nil {
		log.Printf("警告: 初始化文件日志失败: %v", err)
	}

	// 4. 初始化配置系统
	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		log.Fatalf("初始化配置系统失败: %v", err)
	}

	// 5. 初始化所有服务（按依赖顺序）
	if err := app.InitServices(); err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}

	// 6. 设置路由
	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("设置路由失败: %v", err)
	}

	log.Printf("服务器启动在端口 %s", baseConfig.Port)
	log.Printf("访问地址: http://localhost:%s", baseConfig.Port)

	runWithGracefulShutdown(router, baseConfig.Port)
}

// runWithGracefulShutdown 启动服务并在收到信号后优雅关闭
func runWithGracefulShutdown(router *gin.Engine, port string) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("启动服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("服务器强制关闭: %v", err)
	}

	app.Shutdown()
	log.Println("服务器已关闭")
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, cfg.NPCDir),
		filepath.Join(cfg.DataDir, cfg.KnowledgeDir),
		filepath.Join(cfg.DataDir, "memory"),
		filepath.Join(cfg.DataDir, "stats"),
		cfg.StaticDir,
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}
