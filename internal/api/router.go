// internal/api/router.go
package api

import (
	"fmt"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/wenren-ai/wenren/internal/config"
	"github.com/wenren-ai/wenren/internal/di"
	"github.com/wenren-ai/wenren/internal/services"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 只从容器获取服务，不在这里创建新实例
	container := di.GetContainer()

	chatService, ok := container.Get("chat").(*services.ChatService)
	if !ok {
		return nil, fmt.Errorf("对话服务未正确初始化")
	}

	npcService, ok := container.Get("npc").(*services.NPCService)
	if !ok {
		return nil, fmt.Errorf("角色服务未正确初始化")
	}

	memory, ok := container.Get("memory").(services.ConversationMemory)
	if !ok {
		return nil, fmt.Errorf("记忆服务未正确初始化")
	}

	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("LLM服务未正确初始化")
	}

	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		return nil, fmt.Errorf("统计服务未正确初始化")
	}

	handler := NewHandler(chatService, npcService, memory, llmService, statsService)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(corsMiddleware())
	r.Use(requestLogMiddleware())

	// 静态文件与页面模板
	r.Static("/static", cfg.StaticDir)

	templates, _ := filepath.Glob(filepath.Join(cfg.StaticDir, "*.html"))
	if len(templates) > 0 {
		r.LoadHTMLGlob(filepath.Join(cfg.StaticDir, "*.html"))
		r.GET("/", handler.IndexPage)
		r.GET("/npc/:id", handler.NPCChatPage)
	}

	// WebSocket 支持
	r.GET("/ws/chat", handler.ChatWebSocket)

	// API路由
	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/chat", handler.Chat)
		apiGroup.GET("/npc_list", handler.NPCList)
		apiGroup.GET("/npc/:id", handler.GetNPC)
		apiGroup.GET("/memories/:id", handler.GetMemories)
		apiGroup.DELETE("/memories/:id", handler.ClearMemories)
		apiGroup.GET("/llm/status", handler.LLMStatus)
		apiGroup.PUT("/llm/config", handler.UpdateLLMConfig)
		apiGroup.GET("/stats", handler.GetStats)
	}

	return r, nil
}
