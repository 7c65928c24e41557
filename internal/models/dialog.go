// internal/models/dialog.go
package models

// DialogTurn 一轮完整对话（用户的话 + 角色的回答）
// 追加写入后不再修改；同一角色的多条记录按 Timestamp 升序构成对话序列
type DialogTurn struct {
	ID               string `json:"id"`
	NPCID            string `json:"npc_id"`
	SessionID        string `json:"session_id,omitempty"`
	UserMessage      string `json:"user_message"`
	AssistantMessage string `json:"assistant_message"`
	Timestamp        int64  `json:"timestamp"`
}

// 情绪标签闭集（与角色无关的通用标签）
const (
	MoodCalm       = "平静"
	MoodDispleased = "不悦"
	MoodDowncast   = "低落"
)

// CharacterState 角色态快照：叠加在静态人设之上的小型演化状态
// 每次更新写入一条新快照，读取时取最近一条；缺失时返回默认状态
type CharacterState struct {
	CurrentMood string   `json:"current_mood"`
	Notes       []string `json:"notes"`
	LastUpdated int64    `json:"last_updated"`
}

// DefaultCharacterState 角色无任何快照时的规定默认值
func DefaultCharacterState() CharacterState {
	return CharacterState{
		CurrentMood: MoodCalm,
		Notes:       []string{},
		LastUpdated: 0,
	}
}

// Normalize 兜底快照字段，保证下游不用判空
func (cs *CharacterState) Normalize() {
	if cs.CurrentMood == "" {
		cs.CurrentMood = MoodCalm
	}
	if cs.Notes == nil {
		cs.Notes = []string{}
	}
}
