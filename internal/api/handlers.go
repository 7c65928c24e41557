// internal/api/handlers.go
package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wenren-ai/wenren/internal/config"
	"github.com/wenren-ai/wenren/internal/errors"
	"github.com/wenren-ai/wenren/internal/llm"
	"github.com/wenren-ai/wenren/internal/models"
	"github.com/wenren-ai/wenren/internal/services"
	"github.com/wenren-ai/wenren/internal/utils"
)

// Handler API处理器
type Handler struct {
	ChatService *services.ChatService
	NPCService  *services.NPCService
	Memory      services.ConversationMemory
	LLMService  *services.LLMService
	Stats       *services.StatsService

	response *ResponseHelper
}

// NewHandler 创建API处理器
func NewHandler(
	chatService *services.ChatService,
	npcService *services.NPCService,
	memory services.ConversationMemory,
	llmService *services.LLMService,
	stats *services.StatsService,
) *Handler {
	return &Handler{
		ChatService: chatService,
		NPCService:  npcService,
		Memory:      memory,
		LLMService:  llmService,
		Stats:       stats,
		response:    NewResponseHelper(),
	}
}

// ChatRequest 对话请求
type ChatRequest struct {
	NPCID     string `json:"npc_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id"`
}

// ChatResponse 对话响应
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// Chat 处理一轮对话请求
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.BadRequest(c, "缺少必要字段: npc_id 和 message")
		return
	}

	reply, sessionID, err := h.ChatService.Chat(req.NPCID, req.SessionID, req.Message)
	if err != nil {
		if errors.IsNotFoundError(err) {
			h.response.NotFound(c, "角色")
			return
		}
		h.response.InternalError(c, "对话处理失败")
		return
	}

	c.JSON(http.StatusOK, ChatResponse{
		SessionID: sessionID,
		Reply:     reply,
	})
}

// NPCList 返回全部角色摘要
func (h *Handler) NPCList(c *gin.Context) {
	h.response.Success(c, h.NPCService.ListNPCs())
}

// NPCDetail 角色详情：人物设定加上按设定拼装好的system prompt
type NPCDetail struct {
	*models.Persona
	Prompt string `json:"prompt"`
}

// GetNPC 返回单个角色详情
func (h *Handler) GetNPC(c *gin.Context) {
	npcID := c.Param("id")

	persona, err := h.NPCService.LoadNPC(npcID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			h.response.NotFound(c, "角色")
			return
		}
		h.response.InternalError(c, "读取角色设定失败")
		return
	}

	h.response.Success(c, NPCDetail{
		Persona: persona,
		Prompt:  h.NPCService.BuildPrompt(persona),
	})
}

// GetMemories 查看指定角色的对话记忆
func (h *Handler) GetMemories(c *gin.Context) {
	npcID := c.Param("id")

	limit := 200
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	h.response.Success(c, h.Memory.History(npcID, limit))
}

// ClearMemories 清空指定角色的对话记忆
func (h *Handler) ClearMemories(c *gin.Context) {
	npcID := c.Param("id")

	if !h.Memory.Clear(npcID) {
		h.response.InternalError(c, "清空记忆失败")
		return
	}

	h.response.Success(c, gin.H{"npc_id": npcID}, "记忆已清空")
}

// LLMStatus 返回LLM提供者状态与可用提供者列表
func (h *Handler) LLMStatus(c *gin.Context) {
	provider, state, ready := h.LLMService.Status()

	providers := llm.ListProviders()
	sort.Strings(providers)

	h.response.Success(c, gin.H{
		"provider":  provider,
		"state":     state,
		"ready":     ready,
		"providers": providers,
	})
}

// LLMConfigRequest 运行时LLM配置更新请求
type LLMConfigRequest struct {
	Provider string            `json:"provider" binding:"required"`
	Config   map[string]string `json:"config" binding:"required"`
}

// UpdateLLMConfig 运行时切换LLM提供者并持久化配置
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req LLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.BadRequest(c, "缺少必要字段: provider 和 config")
		return
	}

	if err := h.LLMService.UpdateProvider(req.Provider, req.Config); err != nil {
		h.response.BadRequest(c, "切换LLM提供者失败: "+err.Error())
		return
	}

	// 运行时切换已生效，持久化失败只记录日志
	if err := config.UpdateLLMConfig(req.Provider, req.Config); err != nil {
		utils.GetLogger().Warnf("保存LLM配置失败: %v", err)
	}

	provider, state, ready := h.LLMService.Status()
	h.response.Success(c, gin.H{
		"provider": provider,
		"state":    state,
		"ready":    ready,
	}, "LLM配置已更新")
}

// GetStats 返回使用统计
func (h *Handler) GetStats(c *gin.Context) {
	h.response.Success(c, h.Stats.GetStats())
}

// IndexPage 首页
func (h *Handler) IndexPage(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"title": "文人对谈",
	})
}

// NPCChatPage 单个角色的对话页
func (h *Handler) NPCChatPage(c *gin.Context) {
	npcID := c.Param("id")

	persona, err := h.NPCService.LoadNPC(npcID)
	if err != nil {
		c.HTML(http.StatusNotFound, "index.html", gin.H{
			"title": "角色不存在",
		})
		return
	}

	c.HTML(http.StatusOK, "npc_chat.html", gin.H{
		"title": persona.Name,
		"npc":   persona.Summary(),
	})
}
