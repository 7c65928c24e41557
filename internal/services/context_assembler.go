// internal/services/context_assembler.go
package services

import (
	"strings"

	"github.com/wenren-ai/wenren/internal/models"
)

// 对话历史拼接的默认上限
// 超出窗口会无节制地拉长prompt，影响延迟与成本
const (
	DefaultHistoryTurns = 6
	DefaultHistoryChars = 1800
)

// SentinelNone 空内容占位符：prompt模板的各节从不渲染为空白
const SentinelNone = "无"

// AssembleHistory 把时间正序的对话轮拼成prompt可用的历史文本
//
// 规则：
// 1. 只取最后maxTurns轮
// 2. 每轮最多两行：用户一行、角色一行，两者皆空的轮直接跳过
// 3. 拼接后超过maxChars时保留末尾maxChars个字符（允许截断到行中间，
//    消费方是prompt而不是解析器）
// 4. 什么都不剩时返回占位符"无"而不是空串
func AssembleHistory(turns []models.DialogTurn, maxTurns, maxChars int) string {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryTurns
	}
	if maxChars <= 0 {
		maxChars = DefaultHistoryChars
	}

	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	var lines []string
	for _, turn := range turns {
		if turn.UserMessage != "" {
			lines = append(lines, "用户："+turn.UserMessage)
		}
		if turn.AssistantMessage != "" {
			lines = append(lines, "角色："+turn.AssistantMessage)
		}
	}

	text := strings.TrimSpace(strings.Join(lines, "\n"))
	if text == "" {
		return SentinelNone
	}

	// 按字符截断而不是字节，避免把多字节汉字切成乱码
	runes := []rune(text)
	if len(runes) > maxChars {
		text = string(runes[len(runes)-maxChars:])
	}

	return text
}
