// internal/services/context_assembler_test.go
package services

import (
	"strings"
	"testing"

	"github.com/wenren-ai/wenren/internal/models"
)

func makeTurns(n int) []models.DialogTurn {
	turns := make([]models.DialogTurn, 0, n)
	for i := 0; i < n; i++ {
		turns = append(turns, models.DialogTurn{
			UserMessage:      "问题" + string(rune('A'+i)),
			AssistantMessage: "回答" + string(rune('A'+i)),
			Timestamp:        int64(1000 + i),
		})
	}
	return turns
}

func TestAssembleHistory_EmptyReturnsSentinel(t *testing.T) {
	got := AssembleHistory(nil, 6, 1800)
	if got != SentinelNone {
		t.Errorf("空历史应返回占位符 %q，实际: %q", SentinelNone, got)
	}

	got = AssembleHistory([]models.DialogTurn{}, 6, 1800)
	if got != SentinelNone {
		t.Errorf("空切片应返回占位符 %q，实际: %q", SentinelNone, got)
	}
}

func TestAssembleHistory_OnlyLastTurnsKept(t *testing.T) {
	turns := makeTurns(10)

	got := AssembleHistory(turns, 6, 1800)

	// 前4轮（A-D）应被窗口裁掉
	for i := 0; i < 4; i++ {
		dropped := "问题" + string(rune('A'+i))
		if strings.Contains(got, dropped) {
			t.Errorf("窗口外的轮次不应出现: %s", dropped)
		}
	}

	// 后6轮（E-J）应保留
	for i := 4; i < 10; i++ {
		kept := "问题" + string(rune('A'+i))
		if !strings.Contains(got, kept) {
			t.Errorf("窗口内的轮次丢失: %s", kept)
		}
	}
}

func TestAssembleHistory_Labels(t *testing.T) {
	turns := []models.DialogTurn{
		{UserMessage: "你好", AssistantMessage: "幸会"},
	}

	got := AssembleHistory(turns, 6, 1800)
	want := "用户：你好\n角色：幸会"
	if got != want {
		t.Errorf("标签格式不符\n期望: %q\n实际: %q", want, got)
	}
}

func TestAssembleHistory_SkipsEmptyMessages(t *testing.T) {
	turns := []models.DialogTurn{
		{UserMessage: "", AssistantMessage: ""},
		{UserMessage: "只有问题", AssistantMessage: ""},
		{UserMessage: "", AssistantMessage: "只有回答"},
	}

	got := AssembleHistory(turns, 6, 1800)
	want := "用户：只有问题\n角色：只有回答"
	if got != want {
		t.Errorf("空消息处理不符\n期望: %q\n实际: %q", want, got)
	}
}

func TestAssembleHistory_CharBound(t *testing.T) {
	long := strings.Repeat("很长的回答内容", 100)
	turns := []models.DialogTurn{
		{UserMessage: "问", AssistantMessage: long},
		{UserMessage: "再问", AssistantMessage: "短答"},
	}

	maxChars := 50
	got := AssembleHistory(turns, 6, maxChars)

	if runeLen := len([]rune(got)); runeLen > maxChars {
		t.Errorf("拼接结果超出上限: %d > %d", runeLen, maxChars)
	}

	// 截断保留的是末尾内容
	if !strings.Contains(got, "短答") {
		t.Errorf("截断后应保留最近的内容，实际: %q", got)
	}
}

func TestAssembleHistory_DefaultsApplied(t *testing.T) {
	turns := makeTurns(10)

	// 非法上限回退到默认值（6轮/1800字符）
	got := AssembleHistory(turns, 0, 0)
	if strings.Contains(got, "问题A") {
		t.Errorf("默认窗口应只保留最后%d轮", DefaultHistoryTurns)
	}
	if !strings.Contains(got, "问题J") {
		t.Errorf("最近的轮次不应被裁掉")
	}
}
