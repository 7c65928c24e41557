// internal/models/npc.go
package models

// Persona NPC静态设定
// 角色差异完全来自配置文件与知识库，core 代码不写死任何角色语体
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	Description string `json:"description"`

	// Instruction 核心任务指令（拼入 system prompt）
	Instruction string `json:"instruction,omitempty"`

	// Traits 人物性格设定
	Traits PersonaTraits `json:"persona"`

	// SpeechStyle 语言风格映射：风格维度 -> 取值（单值或列表）
	SpeechStyle map[string]StringList `json:"speech_style"`

	// InteractionPolicy 互动策略，含敏感话题列表
	InteractionPolicy InteractionPolicy `json:"interaction_policy"`

	// Background 长篇静态背景知识（可为空，加载自知识库）
	Background string `json:"-"`

	// Knowledge 命名知识文档：文件名（不含扩展名） -> 文本
	Knowledge map[string]string `json:"-"`
}

// PersonaTraits 人物身份与性格
type PersonaTraits struct {
	CoreTraits []string `json:"core_traits,omitempty"`
	Values     []string `json:"values,omitempty"`
	Flaws      []string `json:"flaws,omitempty"`
}

// InteractionPolicy 互动与行为策略
type InteractionPolicy struct {
	SensitiveTopics []string `json:"sensitive_topics,omitempty"`

	// Extra 其他策略条目（原样拼入 prompt）
	Extra map[string]StringList `json:"-"`
}

// PersonaSummary NPC列表项
type PersonaSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	Description string `json:"description"`
}

// Summary 返回角色的列表视图
func (p *Persona) Summary() PersonaSummary {
	return PersonaSummary{
		ID:          p.ID,
		Name:        p.Name,
		Avatar:      p.Avatar,
		Description: p.Description,
	}
}
