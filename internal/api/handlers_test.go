// internal/api/handlers_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/wenren-ai/wenren/internal/models"
	"github.com/wenren-ai/wenren/internal/services"
	"github.com/wenren-ai/wenren/internal/storage"

	_ "github.com/wenren-ai/wenren/internal/llm/providers/openai"
)

// testMemory 内存版对话记忆
type testMemory struct {
	turns map[string][]models.DialogTurn
}

func newTestMemory() *testMemory {
	return &testMemory{turns: make(map[string][]models.DialogTurn)}
}

func (m *testMemory) AppendTurn(npcID, sessionID, userMessage, assistantMessage string) bool {
	m.turns[npcID] = append(m.turns[npcID], models.DialogTurn{
		NPCID: npcID, SessionID: sessionID,
		UserMessage: userMessage, AssistantMessage: assistantMessage,
	})
	return true
}

func (m *testMemory) History(npcID string, limit int) []models.DialogTurn {
	turns := m.turns[npcID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}

func (m *testMemory) Clear(npcID string) bool {
	delete(m.turns, npcID)
	return true
}

func (m *testMemory) GetState(npcID string) models.CharacterState {
	return models.DefaultCharacterState()
}

func (m *testMemory) SetState(npcID string, state models.CharacterState) bool { return true }

func (m *testMemory) Recall(scopeKey, query string, k int) string { return "" }

// echoGenerator 固定回复的生成桩
type echoGenerator struct{}

func (echoGenerator) CompleteText(ctx context.Context, prompt string) (string, error) {
	return "正是在下。", nil
}

func setupTestRouter(t *testing.T) (*gin.Engine, *testMemory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fileStorage, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	if err := fileStorage.SaveJSONFile("npc", "jia_baoyu.json", map[string]interface{}{
		"name":        "贾宝玉",
		"description": "荣国府衔玉而生的公子",
	}); err != nil {
		t.Fatalf("写入角色设定失败: %v", err)
	}

	npcService := services.NewNPCService(fileStorage, "npc", "knowledge_base")
	memory := newTestMemory()
	llmService := services.NewLLMService("qwen", map[string]string{})
	chatService := services.NewChatService(npcService, memory, echoGenerator{}, services.NewSessionService(), nil)

	handler := NewHandler(chatService, npcService, memory, llmService, nil)

	r := gin.New()
	r.GET("/ws/chat", handler.ChatWebSocket)
	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/chat", handler.Chat)
		apiGroup.GET("/npc_list", handler.NPCList)
		apiGroup.GET("/npc/:id", handler.GetNPC)
		apiGroup.GET("/memories/:id", handler.GetMemories)
		apiGroup.DELETE("/memories/:id", handler.ClearMemories)
		apiGroup.GET("/llm/status", handler.LLMStatus)
		apiGroup.PUT("/llm/config", handler.UpdateLLMConfig)
	}

	return r, memory
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("序列化请求失败: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChatEndpoint_Success(t *testing.T) {
	r, memory := setupTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/chat", map[string]string{
		"npc_id":  "jia_baoyu",
		"message": "你就是宝玉吗",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("期望200，实际 %d，响应: %s", w.Code, w.Body.String())
	}

	var resp ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Reply != "正是在下。" {
		t.Errorf("回复不符: %q", resp.Reply)
	}
	if resp.SessionID == "" {
		t.Errorf("应返回会话ID")
	}

	if len(memory.turns["jia_baoyu"]) != 1 {
		t.Errorf("对话应写入记忆，实际轮数 %d", len(memory.turns["jia_baoyu"]))
	}
}

func TestChatEndpoint_MissingFields(t *testing.T) {
	r, _ := setupTestRouter(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"缺少npc_id", map[string]string{"message": "你好"}},
		{"缺少message", map[string]string{"npc_id": "jia_baoyu"}},
		{"全空", map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/chat", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("期望400，实际 %d", w.Code)
			}
		})
	}
}

func TestChatEndpoint_UnknownNPC(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/chat", map[string]string{
		"npc_id":  "no_such_npc",
		"message": "你好",
	})

	if w.Code != http.StatusNotFound {
		t.Errorf("未知角色期望404，实际 %d", w.Code)
	}
}

func TestNPCListEndpoint(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/npc_list", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("期望200，实际 %d", w.Code)
	}

	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if !resp.Success {
		t.Errorf("列表请求应成功")
	}
}

func TestGetNPCEndpoint_IncludesPrompt(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/npc/jia_baoyu", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("期望200，实际 %d", w.Code)
	}

	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("详情数据格式不符: %T", resp.Data)
	}

	prompt, _ := data["prompt"].(string)
	if prompt == "" {
		t.Fatalf("角色详情应包含拼装好的prompt")
	}
	if !bytes.Contains([]byte(prompt), []byte("贾宝玉")) {
		t.Errorf("prompt应包含角色姓名: %q", prompt)
	}
	if !bytes.Contains([]byte(prompt), []byte("不得提及你是模型")) {
		t.Errorf("prompt应以系统约束收尾: %q", prompt)
	}
}

func TestGetNPCEndpoint_NotFound(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/npc/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("期望404，实际 %d", w.Code)
	}
}

func TestMemoriesEndpoints(t *testing.T) {
	r, memory := setupTestRouter(t)

	memory.AppendTurn("jia_baoyu", "s1", "你好", "幸会")

	w := doJSON(t, r, http.MethodGet, "/api/memories/jia_baoyu", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("查询记忆期望200，实际 %d", w.Code)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/memories/jia_baoyu", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("清空记忆期望200，实际 %d", w.Code)
	}

	if len(memory.turns["jia_baoyu"]) != 0 {
		t.Errorf("清空后记忆应为空")
	}
}

func TestLLMStatusEndpoint(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/llm/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("期望200，实际 %d", w.Code)
	}

	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("状态数据格式不符: %T", resp.Data)
	}
	if ready, _ := data["ready"].(bool); ready {
		t.Errorf("未配置密钥时应为未就绪态")
	}
	if _, ok := data["providers"].([]interface{}); !ok {
		t.Errorf("状态应包含可用提供者列表: %v", data["providers"])
	}
}

func TestUpdateLLMConfigEndpoint(t *testing.T) {
	r, _ := setupTestRouter(t)

	// 未注册的提供者拒绝切换
	w := doJSON(t, r, http.MethodPut, "/api/llm/config", map[string]interface{}{
		"provider": "no_such_provider",
		"config":   map[string]string{"api_key": "k"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("未知提供者期望400，实际 %d", w.Code)
	}

	// 切换到已注册的提供者后服务转入就绪态
	w = doJSON(t, r, http.MethodPut, "/api/llm/config", map[string]interface{}{
		"provider": "openai",
		"config":   map[string]string{"api_key": "sk-test", "default_model": "gpt-4o-mini"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("切换提供者期望200，实际 %d，响应: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/llm/status", nil)
	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("状态数据格式不符: %T", resp.Data)
	}
	if provider, _ := data["provider"].(string); provider != "openai" {
		t.Errorf("提供者应切换为openai，实际 %v", data["provider"])
	}
	if ready, _ := data["ready"].(bool); !ready {
		t.Errorf("切换成功后应为就绪态")
	}
}
