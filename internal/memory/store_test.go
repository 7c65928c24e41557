// internal/memory/store_test.go
package memory

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/wenren-ai/wenren/internal/models"
)

func newTestStore(t *testing.T, embedder Embedder) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStoreWithDB(db, embedder)
	if err != nil {
		t.Fatalf("创建记忆存储失败: %v", err)
	}
	return store
}

func TestAppendTurn_RoundTrip(t *testing.T) {
	store := newTestStore(t, nil)

	if !store.AppendTurn("npc_a", "s1", "你好", "幸会") {
		t.Fatalf("追加对话应成功")
	}

	turns := store.History("npc_a", 1)
	if len(turns) != 1 {
		t.Fatalf("期望1轮对话，实际 %d", len(turns))
	}
	if turns[0].UserMessage != "你好" || turns[0].AssistantMessage != "幸会" {
		t.Errorf("往返内容不符: %+v", turns[0])
	}
	if turns[0].SessionID != "s1" {
		t.Errorf("会话ID不符: %s", turns[0].SessionID)
	}
}

func TestHistory_AscendingAndLimited(t *testing.T) {
	store := newTestStore(t, nil)

	messages := []string{"一", "二", "三", "四", "五"}
	for _, m := range messages {
		if !store.AppendTurn("npc_a", "s1", m, "答"+m) {
			t.Fatalf("追加失败: %s", m)
		}
	}

	turns := store.History("npc_a", 3)
	if len(turns) != 3 {
		t.Fatalf("期望3轮，实际 %d", len(turns))
	}

	// 返回最近3轮且时间正序
	want := []string{"三", "四", "五"}
	for i, turn := range turns {
		if turn.UserMessage != want[i] {
			t.Errorf("第%d轮期望 %s，实际 %s", i, want[i], turn.UserMessage)
		}
	}
}

func TestHistory_ScopeIsolation(t *testing.T) {
	store := newTestStore(t, nil)

	store.AppendTurn("npc_a", "s1", "甲的话", "甲答")
	store.AppendTurn("npc_b", "s2", "乙的话", "乙答")

	turns := store.History("npc_a", 10)
	if len(turns) != 1 {
		t.Fatalf("npc_a应只有1轮，实际 %d", len(turns))
	}
	if turns[0].UserMessage != "甲的话" {
		t.Errorf("出现跨角色泄漏: %+v", turns[0])
	}
}

func TestHistory_EmptyScope(t *testing.T) {
	store := newTestStore(t, nil)

	turns := store.History("nobody", 10)
	if turns == nil {
		t.Fatalf("空历史应返回空切片而不是nil")
	}
	if len(turns) != 0 {
		t.Errorf("期望空序列，实际 %d 轮", len(turns))
	}
}

func TestClear_Idempotent(t *testing.T) {
	store := newTestStore(t, nil)

	store.AppendTurn("npc_a", "s1", "你好", "幸会")

	if !store.Clear("npc_a") {
		t.Fatalf("清空应成功")
	}
	if len(store.History("npc_a", 10)) != 0 {
		t.Errorf("清空后历史应为空")
	}

	// 重复清空也应成功
	if !store.Clear("npc_a") {
		t.Errorf("清空已空的范围也应成功")
	}
}

func TestGetState_DefaultWhenAbsent(t *testing.T) {
	store := newTestStore(t, nil)

	state := store.GetState("npc_a")
	if state.CurrentMood != models.MoodCalm {
		t.Errorf("默认情绪应为 %s，实际 %s", models.MoodCalm, state.CurrentMood)
	}
	if state.Notes == nil || len(state.Notes) != 0 {
		t.Errorf("默认备注应为空序列: %v", state.Notes)
	}
	if state.LastUpdated != 0 {
		t.Errorf("默认更新时间应为0，实际 %d", state.LastUpdated)
	}
}

func TestSetState_MostRecentWins(t *testing.T) {
	store := newTestStore(t, nil)

	if !store.SetState("npc_a", models.CharacterState{CurrentMood: models.MoodDowncast}) {
		t.Fatalf("写入角色态应成功")
	}
	if !store.SetState("npc_a", models.CharacterState{CurrentMood: models.MoodDispleased}) {
		t.Fatalf("第二次写入应成功")
	}

	state := store.GetState("npc_a")
	if state.CurrentMood != models.MoodDispleased {
		t.Errorf("应读到最近一条快照，期望 %s，实际 %s", models.MoodDispleased, state.CurrentMood)
	}
}

func TestRecall_EmptyQuery(t *testing.T) {
	store := newTestStore(t, nil)
	store.AppendTurn("npc_a", "s1", "你好", "幸会")

	if got := store.Recall("npc_a", "", 3); got != "" {
		t.Errorf("空查询应返回空串，实际: %q", got)
	}
	if got := store.Recall("npc_a", "你好", 0); got != "" {
		t.Errorf("k<=0应返回空串，实际: %q", got)
	}
}

func TestRecall_NoEmbedderFallsBackToRecent(t *testing.T) {
	store := newTestStore(t, nil)

	store.AppendTurn("npc_a", "s1", "聊聊诗词", "愿闻其详")
	store.AppendTurn("npc_a", "s1", "再会", "后会有期")

	got := store.Recall("npc_a", "诗词", 2)
	if got == "" {
		t.Fatalf("无向量化器时应退化为最近召回")
	}
	if !strings.Contains(got, "- 用户：聊聊诗词；角色：愿闻其详") {
		t.Errorf("召回格式不符: %q", got)
	}
}

// keywordEmbedder 依据关键词产出确定性向量，测试相似度排序用
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vector := []float32{0, 1}
	if strings.Contains(text, "诗") {
		vector = []float32{1, 0}
	}
	return vector, nil
}

func (keywordEmbedder) Dimensions() int { return 2 }

func TestRecall_RanksBySimilarity(t *testing.T) {
	store := newTestStore(t, keywordEmbedder{})

	store.AppendTurn("npc_a", "s1", "今天吃什么", "随意便好")
	store.AppendTurn("npc_a", "s1", "念一首诗吧", "床前明月光")
	store.AppendTurn("npc_a", "s1", "天气如何", "晴朗")

	got := store.Recall("npc_a", "再念首诗", 1)
	if !strings.Contains(got, "念一首诗吧") {
		t.Errorf("应召回与查询最相关的片段，实际: %q", got)
	}
	if strings.Contains(got, "今天吃什么") {
		t.Errorf("k=1时不应包含低相关片段: %q", got)
	}
}

func TestRecall_NoopEmbedderDegradesToRecency(t *testing.T) {
	store := newTestStore(t, &NoopEmbedder{})

	if !store.AppendTurn("npc_a", "s1", "问诗", "答诗") {
		t.Fatalf("追加对话应成功")
	}
	if !store.AppendTurn("npc_a", "s1", "问茶", "答茶") {
		t.Fatalf("追加对话应成功")
	}

	// 空向量的Embedder不应写入任何embedding
	var withEmbedding int
	row := store.db.QueryRow(`SELECT COUNT(*) FROM dialogs WHERE embedding IS NOT NULL`)
	if err := row.Scan(&withEmbedding); err != nil {
		t.Fatalf("统计embedding失败: %v", err)
	}
	if withEmbedding != 0 {
		t.Errorf("NoopEmbedder不应产生embedding，实际 %d 条", withEmbedding)
	}

	// 召回退化为按时间取最近
	got := store.Recall("npc_a", "随便问点什么", 2)
	if got == "" {
		t.Fatalf("退化召回不应为空")
	}
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("期望2条片段，实际 %d: %q", len(lines), got)
	}
	if !strings.Contains(got, "- 用户：问诗；角色：答诗") {
		t.Errorf("退化召回格式不符: %q", got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"相同方向", []float32{1, 0}, []float32{2, 0}, 1},
		{"正交", []float32{1, 0}, []float32{0, 1}, 0},
		{"零向量", []float32{0, 0}, []float32{1, 0}, 0},
		{"长度不一致", []float32{1}, []float32{1, 0}, 0},
		{"空向量", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); got != tt.want {
				t.Errorf("期望 %.2f，实际 %.2f", tt.want, got)
			}
		})
	}
}
