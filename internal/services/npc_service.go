// internal/services/npc_service.go
package services

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wenren-ai/wenren/internal/errors"
	"github.com/wenren-ai/wenren/internal/models"
	"github.com/wenren-ai/wenren/internal/storage"
	"github.com/wenren-ai/wenren/internal/utils"
)

// DefaultAvatar 角色未配置头像时的占位图
const DefaultAvatar = "/static/images/avatar_default.png"

// NPCService 人物设定与知识库的读取服务
// 设定文件进程期内视为不变，底层FileStorage自带TTL缓存
type NPCService struct {
	Storage      *storage.FileStorage
	NPCDir       string
	KnowledgeDir string

	logger *utils.Logger
}

// NewNPCService 创建人物设定服务
func NewNPCService(fileStorage *storage.FileStorage, npcDir, knowledgeDir string) *NPCService {
	return &NPCService{
		Storage:      fileStorage,
		NPCDir:       npcDir,
		KnowledgeDir: knowledgeDir,
		logger:       utils.GetLogger(),
	}
}

// LoadNPC 加载并规范化单个人物设定
// 设定文件缺失返回NotFoundError；知识库缺失是合法情况（角色可以没有背景）
func (s *NPCService) LoadNPC(npcID string) (*models.Persona, error) {
	if npcID == "" {
		return nil, errors.NewValidationError("角色ID不能为空", nil)
	}

	filename := npcID + ".json"
	if !s.Storage.FileExists(s.NPCDir, filename) {
		return nil, errors.NewNotFoundError(fmt.Sprintf("角色不存在: %s", npcID), nil)
	}

	var persona models.Persona
	if err := s.Storage.LoadJSONFile(s.NPCDir, filename, &persona); err != nil {
		return nil, errors.NewProcessingError(fmt.Sprintf("读取角色设定失败: %s", npcID), err)
	}

	s.normalize(&persona, npcID)
	s.loadKnowledge(&persona)

	return &persona, nil
}

// normalize 补全所有可缺省字段，下游消费者无需再判空
func (s *NPCService) normalize(persona *models.Persona, npcID string) {
	persona.ID = npcID
	if persona.Name == "" {
		persona.Name = npcID
	}
	if persona.Avatar == "" {
		persona.Avatar = DefaultAvatar
	}
	if persona.SpeechStyle == nil {
		persona.SpeechStyle = map[string]models.StringList{}
	}
	if persona.InteractionPolicy.SensitiveTopics == nil {
		persona.InteractionPolicy.SensitiveTopics = []string{}
	}
	if persona.InteractionPolicy.Extra == nil {
		persona.InteractionPolicy.Extra = map[string]models.StringList{}
	}
	if persona.Knowledge == nil {
		persona.Knowledge = map[string]string{}
	}
}

// loadKnowledge 读取 <knowledgeDir>/<id>/ 下的全部文本文档
// background.txt 同时映射到 Background 字段；目录不存在等同于无知识
func (s *NPCService) loadKnowledge(persona *models.Persona) {
	knowledgeDir := filepath.Join(s.KnowledgeDir, persona.ID)

	for _, ext := range []string{".txt", ".md"} {
		files, err := s.Storage.ListFiles(knowledgeDir, ext)
		if err != nil {
			s.logger.Warnf("扫描知识库目录失败（npc=%s）: %v", persona.ID, err)
			continue
		}

		for _, filename := range files {
			data, err := s.Storage.LoadTextFile(knowledgeDir, filename)
			if err != nil {
				s.logger.Warnf("读取知识文档失败（npc=%s, file=%s）: %v", persona.ID, filename, err)
				continue
			}

			text := strings.TrimSpace(string(data))
			if text == "" {
				continue
			}

			stem := strings.TrimSuffix(filename, filepath.Ext(filename))
			persona.Knowledge[stem] = text
		}
	}

	persona.Background = persona.Knowledge["background"]
}

// ListNPCs 扫描设定目录返回角色列表
// 逐个加载，坏文件跳过并记录日志，从不让整个列表失败
func (s *NPCService) ListNPCs() []models.PersonaSummary {
	files, err := s.Storage.ListFiles(s.NPCDir, ".json")
	if err != nil {
		s.logger.Errorf("扫描角色目录失败: %v", err)
		return []models.PersonaSummary{}
	}

	summaries := make([]models.PersonaSummary, 0, len(files))
	for _, filename := range files {
		npcID := strings.TrimSuffix(filename, ".json")

		persona, err := s.LoadNPC(npcID)
		if err != nil {
			s.logger.Warnf("跳过无法加载的角色设定: %s: %v", filename, err)
			continue
		}

		summaries = append(summaries, persona.Summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID < summaries[j].ID
	})

	return summaries
}

// BuildPrompt 把人物设定拼装为角色扮演的system prompt
// 各节按固定顺序拼接，空节整体省略（不出现空标题）
func (s *NPCService) BuildPrompt(persona *models.Persona) string {
	var sections []string

	// 背景（客观事实）
	if persona.Background != "" {
		sections = append(sections, "【人物背景与世界设定】\n"+persona.Background)
	}

	// 核心任务指令
	if persona.Instruction != "" {
		sections = append(sections, "【核心任务指令】\n"+persona.Instruction)
	}

	// 身份 + 性格
	var personaLines []string
	if len(persona.Traits.CoreTraits) > 0 {
		personaLines = append(personaLines, "核心性格特质："+strings.Join(persona.Traits.CoreTraits, "、"))
	}
	if len(persona.Traits.Values) > 0 {
		personaLines = append(personaLines, "价值观："+strings.Join(persona.Traits.Values, "、"))
	}
	if len(persona.Traits.Flaws) > 0 {
		personaLines = append(personaLines, "性格弱点："+strings.Join(persona.Traits.Flaws, "、"))
	}

	var identityBlock []string
	if persona.Description != "" {
		identityBlock = append(identityBlock, persona.Description)
	}
	if len(personaLines) > 0 {
		identityBlock = append(identityBlock, strings.Join(personaLines, "\n"))
	}
	if len(identityBlock) > 0 {
		sections = append(sections, "【人物身份与性格】\n"+strings.Join(identityBlock, "\n"))
	}

	// 语言风格
	if len(persona.SpeechStyle) > 0 {
		styleKeys := make([]string, 0, len(persona.SpeechStyle))
		for key := range persona.SpeechStyle {
			styleKeys = append(styleKeys, key)
		}
		sort.Strings(styleKeys)

		styleLines := make([]string, 0, len(styleKeys))
		for _, key := range styleKeys {
			styleLines = append(styleLines, fmt.Sprintf("%s：%s", key, persona.SpeechStyle[key].Join()))
		}
		sections = append(sections, "【语言风格与表达习惯】\n"+strings.Join(styleLines, "\n"))
	}

	// 互动策略
	var policyLines []string
	if len(persona.InteractionPolicy.SensitiveTopics) > 0 {
		policyLines = append(policyLines, "sensitive_topics："+strings.Join(persona.InteractionPolicy.SensitiveTopics, "、"))
	}
	if len(persona.InteractionPolicy.Extra) > 0 {
		extraKeys := make([]string, 0, len(persona.InteractionPolicy.Extra))
		for key := range persona.InteractionPolicy.Extra {
			extraKeys = append(extraKeys, key)
		}
		sort.Strings(extraKeys)

		for _, key := range extraKeys {
			policyLines = append(policyLines, fmt.Sprintf("%s：%s", key, persona.InteractionPolicy.Extra[key].Join()))
		}
	}
	if len(policyLines) > 0 {
		sections = append(sections, "【互动与行为策略】\n"+strings.Join(policyLines, "\n"))
	}

	// 统一兜底约束
	sections = append(sections,
		"【系统约束】\n你始终以该角色的第一人称视角进行回应，不得提及你是模型、AI 或系统提示的存在。")

	return strings.Join(sections, "\n\n")
}
