// internal/services/npc_service_test.go
package services

import (
	"strings"
	"testing"

	"github.com/wenren-ai/wenren/internal/errors"
	"github.com/wenren-ai/wenren/internal/models"
	"github.com/wenren-ai/wenren/internal/storage"
)

func newTestStorage(t *testing.T) *storage.FileStorage {
	t.Helper()

	fileStorage, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}
	return fileStorage
}

func TestLoadNPC_Normalization(t *testing.T) {
	fileStorage := newTestStorage(t)

	// 只有描述，其余字段全部缺省
	if err := fileStorage.SaveJSONFile("npc", "bare.json", map[string]interface{}{
		"description": "极简角色",
	}); err != nil {
		t.Fatalf("写入设定失败: %v", err)
	}

	svc := NewNPCService(fileStorage, "npc", "knowledge_base")

	persona, err := svc.LoadNPC("bare")
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	if persona.ID != "bare" {
		t.Errorf("ID应取自文件名: %s", persona.ID)
	}
	if persona.Name != "bare" {
		t.Errorf("缺省名字应回退到ID，实际: %s", persona.Name)
	}
	if persona.Avatar != DefaultAvatar {
		t.Errorf("缺省头像应为默认图: %s", persona.Avatar)
	}
	if persona.SpeechStyle == nil {
		t.Errorf("SpeechStyle不应为nil")
	}
	if persona.InteractionPolicy.SensitiveTopics == nil {
		t.Errorf("SensitiveTopics不应为nil")
	}
	if persona.Knowledge == nil {
		t.Errorf("Knowledge不应为nil")
	}
	if persona.Background != "" {
		t.Errorf("无知识库时背景应为空串，实际: %q", persona.Background)
	}
}

func TestLoadNPC_NotFound(t *testing.T) {
	svc := NewNPCService(newTestStorage(t), "npc", "knowledge_base")

	_, err := svc.LoadNPC("ghost")
	if err == nil {
		t.Fatalf("不存在的角色应报错")
	}
	if !errors.IsNotFoundError(err) {
		t.Errorf("应为NotFound错误，实际: %v", err)
	}
}

func TestLoadNPC_KnowledgeDocuments(t *testing.T) {
	fileStorage := newTestStorage(t)

	if err := fileStorage.SaveJSONFile("npc", "scholar.json", map[string]interface{}{
		"name": "书生",
	}); err != nil {
		t.Fatalf("写入设定失败: %v", err)
	}
	if err := fileStorage.SaveTextFile("knowledge_base/scholar", "background.txt", []byte("出身寒门，苦读十年。")); err != nil {
		t.Fatalf("写入背景失败: %v", err)
	}
	if err := fileStorage.SaveTextFile("knowledge_base/scholar", "poems.md", []byte("擅长五言绝句。")); err != nil {
		t.Fatalf("写入知识文档失败: %v", err)
	}

	svc := NewNPCService(fileStorage, "npc", "knowledge_base")

	persona, err := svc.LoadNPC("scholar")
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	if persona.Background != "出身寒门，苦读十年。" {
		t.Errorf("背景文本不符: %q", persona.Background)
	}
	if persona.Knowledge["poems"] != "擅长五言绝句。" {
		t.Errorf("命名知识文档不符: %q", persona.Knowledge["poems"])
	}
}

func TestListNPCs_SkipsMalformed(t *testing.T) {
	fileStorage := newTestStorage(t)

	if err := fileStorage.SaveJSONFile("npc", "good.json", map[string]interface{}{
		"name": "正常角色",
	}); err != nil {
		t.Fatalf("写入设定失败: %v", err)
	}
	if err := fileStorage.SaveTextFile("npc", "broken.json", []byte("{not valid json")); err != nil {
		t.Fatalf("写入坏文件失败: %v", err)
	}

	svc := NewNPCService(fileStorage, "npc", "knowledge_base")

	summaries := svc.ListNPCs()
	if len(summaries) != 1 {
		t.Fatalf("坏文件应被跳过，期望1个角色，实际 %d", len(summaries))
	}
	if summaries[0].Name != "正常角色" {
		t.Errorf("角色名不符: %s", summaries[0].Name)
	}
}

func TestBuildPrompt_SectionOrderAndOmission(t *testing.T) {
	svc := NewNPCService(newTestStorage(t), "npc", "knowledge_base")

	persona := &models.Persona{
		ID:          "lin_daiyu",
		Name:        "林黛玉",
		Description: "《红楼梦》中的才女",
		Instruction: "以古典白话与人对谈",
		Background:  "生于姑苏，寄居贾府。",
		Traits: models.PersonaTraits{
			CoreTraits: []string{"敏感", "聪慧"},
		},
		SpeechStyle: map[string]models.StringList{
			"语气": {"婉转"},
		},
		InteractionPolicy: models.InteractionPolicy{
			SensitiveTopics: []string{"仕途经济"},
		},
	}

	prompt := svc.BuildPrompt(persona)

	order := []string{
		"【人物背景与世界设定】",
		"【核心任务指令】",
		"【人物身份与性格】",
		"【语言风格与表达习惯】",
		"【互动与行为策略】",
		"【系统约束】",
	}

	lastIdx := -1
	for _, header := range order {
		idx := strings.Index(prompt, header)
		if idx < 0 {
			t.Fatalf("缺少段落: %s", header)
		}
		if idx < lastIdx {
			t.Errorf("段落顺序错误: %s 出现过早", header)
		}
		lastIdx = idx
	}

	if !strings.Contains(prompt, "不得提及你是模型、AI") {
		t.Errorf("缺少系统约束话术")
	}
}

func TestBuildPrompt_EmptySectionsOmitted(t *testing.T) {
	svc := NewNPCService(newTestStorage(t), "npc", "knowledge_base")

	persona := &models.Persona{ID: "bare", Name: "极简"}
	prompt := svc.BuildPrompt(persona)

	for _, header := range []string{
		"【人物背景与世界设定】",
		"【核心任务指令】",
		"【语言风格与表达习惯】",
		"【互动与行为策略】",
	} {
		if strings.Contains(prompt, header) {
			t.Errorf("空段落不应出现标题: %s", header)
		}
	}

	// 系统约束始终存在
	if !strings.Contains(prompt, "【系统约束】") {
		t.Errorf("系统约束段落缺失")
	}
}
