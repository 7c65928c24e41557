// internal/models/chat_context.go
package models

// 交互边界模式
const (
	ModeNormal      = "NORMAL"
	ModeSoftDeflect = "SOFT_DEFLECT"
	ModeCoolDown    = "COOL_DOWN"
)

// Emotion 轻量情绪推断结果：标签 + 唤醒度
type Emotion struct {
	Label   string  `json:"label"`
	Arousal float64 `json:"arousal"`
}

// ChatContext 单次请求的流水线累积器
// 每个阶段只写自己的字段，依次传递；请求结束即丢弃，不持久化
type ChatContext struct {
	// 入参
	NPC         *Persona
	SessionID   string
	UserMessage string

	// LoadState
	State CharacterState

	// InferEmotion
	Emotion Emotion

	// ResolveSpeechStyle
	SpeechStyle map[string]StringList

	// ApplyInteractionPolicy
	Mode string

	// 记忆侧输入（编排器在流水线前填充）
	History string
	Recall  string

	// FormatInputs
	Formatted map[string]string

	// Generate
	Reply string
}
