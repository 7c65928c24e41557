// internal/models/stringlist_test.go
package models

import (
	"encoding/json"
	"testing"
)

func TestStringList_AcceptsStringOrArray(t *testing.T) {
	var persona Persona
	raw := `{
		"id": "test",
		"speech_style": {
			"语气": "婉转",
			"常用词": ["姐姐", "罢了"]
		}
	}`

	if err := json.Unmarshal([]byte(raw), &persona); err != nil {
		t.Fatalf("解析失败: %v", err)
	}

	if got := persona.SpeechStyle["语气"].Join(); got != "婉转" {
		t.Errorf("单值风格解析不符: %q", got)
	}
	if got := persona.SpeechStyle["常用词"].Join(); got != "姐姐、罢了" {
		t.Errorf("列表风格解析不符: %q", got)
	}
}

func TestInteractionPolicy_ExtraEntriesCaptured(t *testing.T) {
	var policy InteractionPolicy
	raw := `{
		"sensitive_topics": ["仕途经济"],
		"when_teased": "婉转回避",
		"taboo_words": ["俗物"]
	}`

	if err := json.Unmarshal([]byte(raw), &policy); err != nil {
		t.Fatalf("解析失败: %v", err)
	}

	if len(policy.SensitiveTopics) != 1 || policy.SensitiveTopics[0] != "仕途经济" {
		t.Errorf("敏感话题解析不符: %v", policy.SensitiveTopics)
	}
	if got := policy.Extra["when_teased"].Join(); got != "婉转回避" {
		t.Errorf("附加策略解析不符: %q", got)
	}
	if got := policy.Extra["taboo_words"].Join(); got != "俗物" {
		t.Errorf("附加列表策略解析不符: %q", got)
	}
	if _, exists := policy.Extra["sensitive_topics"]; exists {
		t.Errorf("sensitive_topics不应重复出现在附加策略里")
	}
}

func TestCharacterStateNormalize(t *testing.T) {
	state := CharacterState{}
	state.Normalize()

	if state.CurrentMood != MoodCalm {
		t.Errorf("空情绪应回退到 %s，实际 %s", MoodCalm, state.CurrentMood)
	}
	if state.Notes == nil {
		t.Errorf("Notes不应为nil")
	}
}
