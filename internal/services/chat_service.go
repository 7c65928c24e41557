// internal/services/chat_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wenren-ai/wenren/internal/llm"
	"github.com/wenren-ai/wenren/internal/models"
	"github.com/wenren-ai/wenren/internal/utils"
)

// FallbackReply 生成失败时的角色化兜底回复：用户必须总能得到一句话
const FallbackReply = "我一时语塞，容我想想再答。"

// TextGenerator 文本生成协作方（LLMService实现；测试中可用桩替换）
type TextGenerator interface {
	CompleteText(ctx context.Context, prompt string) (string, error)
}

// TextStreamer 增量生成能力，生成方可选实现
// 不实现时流式调用退化为整句一次性返回
type TextStreamer interface {
	StreamCompletion(ctx context.Context, prompt string) (<-chan llm.StreamResponse, error)
}

// ConversationMemory 对话记忆的读写契约（memory.Store实现）
type ConversationMemory interface {
	AppendTurn(npcID, sessionID, userMessage, assistantMessage string) bool
	History(npcID string, limit int) []models.DialogTurn
	Clear(npcID string) bool
	GetState(npcID string) models.CharacterState
	SetState(npcID string, state models.CharacterState) bool
	Recall(scopeKey, query string, k int) string
}

// ChatService 对话编排：按固定次序推进单轮对话的各个阶段
type ChatService struct {
	NPCService *NPCService
	Memory     ConversationMemory
	Generator  TextGenerator
	Sessions   *SessionService
	Stats      *StatsService

	logger *utils.Logger
}

// pipelineStep 单个阶段：读取并推进累积上下文，永不失败
type pipelineStep struct {
	name string
	run  func(*models.ChatContext)
}

// NewChatService 创建对话编排服务
func NewChatService(npcService *NPCService, memory ConversationMemory, generator TextGenerator, sessions *SessionService, stats *StatsService) *ChatService {
	return &ChatService{
		NPCService: npcService,
		Memory:     memory,
		Generator:  generator,
		Sessions:   sessions,
		Stats:      stats,
		logger:     utils.GetLogger(),
	}
}

// Chat 处理一轮对话，返回回复文本与会话ID
// 只有角色不存在会返回错误；其余一切失败都降级为兜底回复
func (s *ChatService) Chat(npcID, sessionID, userMessage string) (string, string, error) {
	return s.run(npcID, sessionID, userMessage, s.generate)
}

// ChatStream 与Chat走同一条流水线，生成阶段通过onDelta增量回调文本片段
// 生成方不支持流式时，整句回复作为单个片段回调
func (s *ChatService) ChatStream(npcID, sessionID, userMessage string, onDelta func(delta string)) (string, string, error) {
	return s.run(npcID, sessionID, userMessage, func(ctx *models.ChatContext) {
		s.generateStream(ctx, onDelta)
	})
}

func (s *ChatService) run(npcID, sessionID, userMessage string, generate func(*models.ChatContext)) (string, string, error) {
	npc, err := s.NPCService.LoadNPC(npcID)
	if err != nil {
		return "", "", err
	}

	sessionID = s.Sessions.GetOrCreate(sessionID)

	chatCtx := &models.ChatContext{
		NPC:         npc,
		SessionID:   sessionID,
		UserMessage: userMessage,
	}
	s.PrepareContext(chatCtx)

	// 阶段表驱动，严格顺序，无回跳
	steps := []pipelineStep{
		{"load_state", s.loadState},
		{"infer_emotion", s.inferEmotion},
		{"resolve_speech_style", s.resolveSpeechStyle},
		{"apply_interaction_policy", s.applyInteractionPolicy},
		{"format_inputs", s.formatInputs},
		{"generate", generate},
		{"persist", s.persist},
	}

	for _, step := range steps {
		step.run(chatCtx)
	}

	if s.Stats != nil {
		s.Stats.RecordChat(npcID)
	}

	return chatCtx.Reply, sessionID, nil
}

// loadState 读取角色态快照（缺失时为默认态）
func (s *ChatService) loadState(ctx *models.ChatContext) {
	ctx.State = s.Memory.GetState(ctx.NPC.ID)
}

// 情绪关键词表：轻量启发式，不含任何角色特例
var (
	displeasedKeywords = []string{"烦", "讨厌", "不满", "生气", "恼"}
	downcastKeywords   = []string{"难过", "伤心", "委屈", "唉"}
)

// inferEmotion 关键词扫描推断情绪标签与强度，带轻微惯性：
// 前一轮情绪非平静且本轮未触发关键词时，沿用前一轮标签
func (s *ChatService) inferEmotion(ctx *models.ChatContext) {
	label := models.MoodCalm
	arousal := 0.2

	text := ctx.UserMessage
	if containsAny(text, displeasedKeywords) {
		label, arousal = models.MoodDispleased, 0.7
	} else if containsAny(text, downcastKeywords) {
		label, arousal = models.MoodDowncast, 0.6
	}

	prev := ctx.State.CurrentMood
	if (prev == models.MoodDispleased || prev == models.MoodDowncast) && label == models.MoodCalm {
		label = prev
	}

	ctx.Emotion = models.Emotion{Label: label, Arousal: arousal}
}

// resolveSpeechStyle 话语风格直接取自人物定义，不做计算
func (s *ChatService) resolveSpeechStyle(ctx *models.ChatContext) {
	ctx.SpeechStyle = ctx.NPC.SpeechStyle
}

// applyInteractionPolicy 交互模式判定
// 默认NORMAL；命中敏感话题转SOFT_DEFLECT；情绪不悦时覆盖为COOL_DOWN（后写优先）
func (s *ChatService) applyInteractionPolicy(ctx *models.ChatContext) {
	mode := models.ModeNormal

	if containsAny(ctx.UserMessage, ctx.NPC.InteractionPolicy.SensitiveTopics) {
		mode = models.ModeSoftDeflect
	}

	if ctx.Emotion.Label == models.MoodDispleased {
		mode = models.ModeCoolDown
	}

	ctx.Mode = mode
}

// formatInputs 把各阶段的派生结果统一渲染为prompt可注入的文本节
func (s *ChatService) formatInputs(ctx *models.ChatContext) {
	history := ctx.History
	if history == "" {
		history = SentinelNone
	}

	ctx.Formatted = map[string]string{
		"knowledge":            formatKnowledge(ctx.NPC.Knowledge, ctx.NPC.Background),
		"character_state":      formatCharacterState(ctx.State),
		"emotion":              fmt.Sprintf("label：%s\narousal：%.1f", ctx.Emotion.Label, ctx.Emotion.Arousal),
		"speech_style":         formatSpeechStyle(ctx.SpeechStyle),
		"interaction_mode":     "mode：" + ctx.Mode,
		"conversation_history": history,
		"recall":               orSentinel(ctx.Recall),
	}
}

// generate 调用生成协作方；任何失败都替换为固定兜底回复，从不上抛
func (s *ChatService) generate(ctx *models.ChatContext) {
	prompt := s.buildChatPrompt(ctx)

	reply, err := s.Generator.CompleteText(context.Background(), prompt)
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			s.logger.Errorf("生成回复失败（npc=%s）: %v", ctx.NPC.ID, err)
		}
		reply = FallbackReply
	}

	ctx.Reply = strings.TrimSpace(reply)
}

// generateStream 流式生成；与generate同样的失败契约：任何失败都落到兜底回复
func (s *ChatService) generateStream(ctx *models.ChatContext, onDelta func(string)) {
	streamer, ok := s.Generator.(TextStreamer)
	if !ok {
		s.generate(ctx)
		if onDelta != nil && ctx.Reply != "" {
			onDelta(ctx.Reply)
		}
		return
	}

	prompt := s.buildChatPrompt(ctx)

	stream, err := streamer.StreamCompletion(context.Background(), prompt)
	if err != nil {
		s.logger.Errorf("流式生成失败（npc=%s）: %v", ctx.NPC.ID, err)
		ctx.Reply = FallbackReply
		if onDelta != nil {
			onDelta(FallbackReply)
		}
		return
	}

	var builder strings.Builder
	for chunk := range stream {
		if chunk.Text != "" {
			builder.WriteString(chunk.Text)
			if onDelta != nil {
				onDelta(chunk.Text)
			}
		}
		if chunk.Done {
			break
		}
	}

	reply := strings.TrimSpace(builder.String())
	if reply == "" {
		reply = FallbackReply
		if onDelta != nil {
			onDelta(FallbackReply)
		}
	}
	ctx.Reply = reply
}

// persist 回写角色态与对话轮；此时回复已产出，持久化失败仅记录日志
func (s *ChatService) persist(ctx *models.ChatContext) {
	newState := ctx.State
	newState.CurrentMood = ctx.Emotion.Label
	if !s.Memory.SetState(ctx.NPC.ID, newState) {
		s.logger.Warnf("角色态回写失败（npc=%s）", ctx.NPC.ID)
	}

	if !s.Memory.AppendTurn(ctx.NPC.ID, ctx.SessionID, ctx.UserMessage, ctx.Reply) {
		s.logger.Warnf("对话轮追加失败（npc=%s）", ctx.NPC.ID)
	}
}

// buildChatPrompt 按原型的节式布局拼装最终prompt
func (s *ChatService) buildChatPrompt(ctx *models.ChatContext) string {
	fmtIn := ctx.Formatted

	return fmt.Sprintf(
		"你正在扮演一位文学作品中的人物。\n\n"+
			"【人物信息】\n姓名：%s\n人物简述：%s\n\n"+
			"【约束】\n"+
			"1）始终保持人物身份，不跳出角色。\n"+
			"2）使用中文作答，风格符合人物气质与时代。\n"+
			"3）不得编造未给出的具体事实；若信息不足，应以人物口吻婉转说明。\n\n"+
			"【背景知识】\n%s\n\n"+
			"【角色态记忆】\n%s\n\n"+
			"【长期记忆片段】\n%s\n\n"+
			"【当前情绪】\n%s\n\n"+
			"【话语风格】\n%s\n\n"+
			"【交互边界】\n%s\n\n"+
			"【对话历史】\n%s\n\n"+
			"【用户的话】\n%s\n\n"+
			"请在遵守以上约束的前提下，自然、连贯地作答。",
		ctx.NPC.Name,
		ctx.NPC.Description,
		fmtIn["knowledge"],
		fmtIn["character_state"],
		fmtIn["recall"],
		fmtIn["emotion"],
		fmtIn["speech_style"],
		fmtIn["interaction_mode"],
		fmtIn["conversation_history"],
		ctx.UserMessage,
	)
}

// PrepareContext 拉取并拼接对话历史与相关记忆片段
// 与Chat分开暴露，方便接口层控制拉取深度
func (s *ChatService) PrepareContext(chatCtx *models.ChatContext) {
	turns := s.Memory.History(chatCtx.NPC.ID, DefaultHistoryTurns)
	chatCtx.History = AssembleHistory(turns, DefaultHistoryTurns, DefaultHistoryChars)
	chatCtx.Recall = s.Memory.Recall(chatCtx.NPC.ID, chatCtx.UserMessage, 3)
}

// ---- 格式化辅助 ----

func containsAny(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func orSentinel(text string) string {
	if strings.TrimSpace(text) == "" {
		return SentinelNone
	}
	return text
}

func formatKnowledge(knowledge map[string]string, background string) string {
	if len(knowledge) == 0 && background == "" {
		return SentinelNone
	}

	var lines []string
	if background != "" {
		lines = append(lines, background)
	}

	// map遍历顺序不稳定，排序保证同一输入产出同一prompt
	names := make([]string, 0, len(knowledge))
	for name := range knowledge {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "background" {
			// background.txt 已通过 Background 字段呈现
			continue
		}
		lines = append(lines, fmt.Sprintf("%s：%s", name, knowledge[name]))
	}

	return orSentinel(strings.Join(lines, "\n"))
}

func formatCharacterState(state models.CharacterState) string {
	lines := []string{"current_mood：" + state.CurrentMood}
	if len(state.Notes) > 0 {
		lines = append(lines, "notes："+strings.Join(state.Notes, "；"))
	}
	return strings.Join(lines, "\n")
}

func formatSpeechStyle(style map[string]models.StringList) string {
	if len(style) == 0 {
		return SentinelNone
	}

	keys := make([]string, 0, len(style))
	for key := range style {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s：%s", key, style[key].Join()))
	}

	return strings.Join(lines, "\n")
}
