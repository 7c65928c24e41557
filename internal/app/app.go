// internal/app/app.go
package app

import (
	"fmt"

	"github.com/wenren-ai/wenren/internal/config"
	"github.com/wenren-ai/wenren/internal/di"
	"github.com/wenren-ai/wenren/internal/memory"
	"github.com/wenren-ai/wenren/internal/services"
	"github.com/wenren-ai/wenren/internal/storage"
	"github.com/wenren-ai/wenren/internal/utils"

	// 注册LLM提供者
	_ "github.com/wenren-ai/wenren/internal/llm/providers/openai"
	_ "github.com/wenren-ai/wenren/internal/llm/providers/qwen"
)

// InitServices 按依赖顺序构建全部服务并注册到容器
// 路由层只从容器取用，不再创建新实例
func InitServices() error {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	logger := utils.GetLogger()
	container := di.GetContainer()

	// 1. 文件存储（人设与知识库）
	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	container.Register("storage", fileStorage)

	// 2. LLM服务（密钥缺失时以未就绪态运行，对话走兜底回复）
	llmService := services.NewLLMService(cfg.LLMProvider, cfg.LLMConfig)
	container.Register("llm", llmService)

	// 3. 向量化器（可选：未配置时召回退化为按时间取最近）
	var embedder memory.Embedder
	if len(cfg.EmbeddingConfig) > 0 && cfg.EmbeddingConfig["api_key"] != "" {
		openaiEmbedder, err := memory.NewOpenAIEmbedder(cfg.EmbeddingConfig)
		if err != nil {
			logger.Warnf("初始化向量化器失败，召回退化为按时间取最近: %v", err)
		} else {
			embedder = openaiEmbedder
		}
	}

	// 4. 对话记忆存储
	store, err := memory.NewStore(cfg.MemoryDBPath, embedder)
	if err != nil {
		return fmt.Errorf("初始化记忆存储失败: %w", err)
	}
	container.Register("memory", store)

	// 5. 人物设定服务
	npcService := services.NewNPCService(fileStorage, cfg.NPCDir, cfg.KnowledgeDir)
	container.Register("npc", npcService)

	// 6. 会话与统计
	sessionService := services.NewSessionService()
	container.Register("session", sessionService)

	statsService := services.NewStatsService(cfg.DataDir + "/stats")
	container.Register("stats", statsService)
	llmService.SetUsageHook(statsService.RecordTokens)

	// 7. 对话编排
	chatService := services.NewChatService(npcService, store, llmService, sessionService, statsService)
	container.Register("chat", chatService)

	logger.Infof("服务初始化完成，已注册: %v", container.GetNames())
	return nil
}

// Shutdown 停止后台任务并释放资源
func Shutdown() {
	container := di.GetContainer()

	if stats, ok := container.Get("stats").(*services.StatsService); ok && stats != nil {
		stats.Shutdown()
	}

	if store, ok := container.Get("memory").(*memory.Store); ok && store != nil {
		if err := store.Close(); err != nil {
			utils.GetLogger().Warnf("关闭记忆存储失败: %v", err)
		}
	}

	if fileStorage, ok := container.Get("storage").(*storage.FileStorage); ok && fileStorage != nil {
		fileStorage.Close()
	}
}
