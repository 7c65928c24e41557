// internal/memory/store.go
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wenren-ai/wenren/internal/models"
	"github.com/wenren-ai/wenren/internal/utils"
)

// Store 角色长期记忆存储
//
// 设计原则：
// - 对话原文与角色态快照全部追加写入，从不原地更新
// - 读取约定：对话按时间正序拼接，角色态取最近一条快照
// - 所有公开方法在存储边界吞掉底层异常：记录日志并降级为空结果/失败布尔值，
//   对话的连续性优先于记忆的持久性
type Store struct {
	db       *sql.DB
	embedder Embedder
	logger   *utils.Logger
}

// NewStore 打开（必要时创建）SQLite记忆库
// embedder 可以为 nil：此时 Recall 退化为按时间取最近若干条
func NewStore(dbPath string, embedder Embedder) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建记忆库目录失败: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开记忆库失败: %w", err)
	}

	store := &Store{
		db:       db,
		embedder: embedder,
		logger:   utils.GetLogger(),
	}

	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// NewStoreWithDB 使用现成的数据库连接创建存储（测试用）
func NewStoreWithDB(db *sql.DB, embedder Embedder) (*Store, error) {
	store := &Store{
		db:       db,
		embedder: embedder,
		logger:   utils.GetLogger(),
	}

	if err := store.ensureSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dialogs (
			id TEXT PRIMARY KEY,
			npc_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			user_message TEXT NOT NULL,
			assistant_message TEXT NOT NULL,
			embedding TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dialogs_npc_ts ON dialogs(npc_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS character_state (
			id TEXT PRIMARY KEY,
			npc_id TEXT NOT NULL,
			state TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_character_state_npc_ts ON character_state(npc_id, timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("初始化记忆库表结构失败: %w", err)
		}
	}

	return nil
}

// Close 关闭底层数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendTurn 追加一轮对话
// 永不向调用方抛错：内部失败记录日志并返回false，调用方可以选择继续对话
func (s *Store) AppendTurn(npcID, sessionID, userMessage, assistantMessage string) bool {
	timestamp := time.Now().Unix()
	dialogID := fmt.Sprintf("%s:%d", npcID, time.Now().UnixNano())

	// 向量化尽力而为：失败只影响召回质量，不影响写入
	var embeddingJSON []byte
	if s.embedder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		vector, err := s.embedder.Embed(ctx, formatTurnDocument(userMessage, assistantMessage))
		cancel()
		if err != nil {
			s.logger.Warnf("对话向量化失败（npc=%s）: %v", npcID, err)
		} else if len(vector) > 0 {
			embeddingJSON, err = json.Marshal(vector)
			if err != nil {
				embeddingJSON = nil
			}
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO dialogs (id, npc_id, session_id, user_message, assistant_message, embedding, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dialogID, npcID, sessionID, userMessage, assistantMessage, nullableBytes(embeddingJSON), timestamp,
	)
	if err != nil {
		s.logger.Errorf("写入对话记录失败（npc=%s）: %v", npcID, err)
		return false
	}

	return true
}

// History 读取最近limit轮对话，按时间正序返回
// 没有记录或读取失败时返回空序列，从不返回错误
func (s *Store) History(npcID string, limit int) []models.DialogTurn {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, npc_id, session_id, user_message, assistant_message, timestamp
		FROM dialogs
		WHERE npc_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`,
		npcID, limit,
	)
	if err != nil {
		s.logger.Errorf("读取对话历史失败（npc=%s）: %v", npcID, err)
		return []models.DialogTurn{}
	}
	defer rows.Close()

	var turns []models.DialogTurn
	for rows.Next() {
		var turn models.DialogTurn
		if err := rows.Scan(&turn.ID, &turn.NPCID, &turn.SessionID,
			&turn.UserMessage, &turn.AssistantMessage, &turn.Timestamp); err != nil {
			s.logger.Warnf("跳过损坏的对话记录（npc=%s）: %v", npcID, err)
			continue
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		s.logger.Errorf("遍历对话记录失败（npc=%s）: %v", npcID, err)
		return []models.DialogTurn{}
	}

	// 查询取的是最近limit条（倒序），翻转为时间正序
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	if turns == nil {
		return []models.DialogTurn{}
	}

	return turns
}

// Clear 清空指定角色的全部对话记录，幂等：清空已空的范围也算成功
func (s *Store) Clear(npcID string) bool {
	if _, err := s.db.Exec(`DELETE FROM dialogs WHERE npc_id = ?`, npcID); err != nil {
		s.logger.Errorf("清空对话记录失败（npc=%s）: %v", npcID, err)
		return false
	}
	return true
}

// GetState 读取角色态快照（最近一条）；缺失或损坏时返回规定默认值，从不报错
func (s *Store) GetState(npcID string) models.CharacterState {
	defaultState := models.DefaultCharacterState()

	row := s.db.QueryRow(`
		SELECT state, timestamp
		FROM character_state
		WHERE npc_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT 1`,
		npcID,
	)

	var stateJSON string
	var timestamp int64
	if err := row.Scan(&stateJSON, &timestamp); err != nil {
		if err != sql.ErrNoRows {
			s.logger.Errorf("读取角色态失败（npc=%s）: %v", npcID, err)
		}
		return defaultState
	}

	var state models.CharacterState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		s.logger.Warnf("角色态快照损坏，返回默认值（npc=%s）: %v", npcID, err)
		return defaultState
	}

	state.LastUpdated = timestamp
	state.Normalize()
	return state
}

// SetState 写入一条角色态快照（追加写入，从不覆盖历史快照）
func (s *Store) SetState(npcID string, state models.CharacterState) bool {
	timestamp := time.Now().Unix()
	snapshotID := fmt.Sprintf("%s:%d", npcID, time.Now().UnixNano())

	state.LastUpdated = timestamp

	stateJSON, err := json.Marshal(state)
	if err != nil {
		s.logger.Errorf("序列化角色态失败（npc=%s）: %v", npcID, err)
		return false
	}

	_, err = s.db.Exec(`
		INSERT INTO character_state (id, npc_id, state, timestamp)
		VALUES (?, ?, ?, ?)`,
		snapshotID, npcID, string(stateJSON), timestamp,
	)
	if err != nil {
		s.logger.Errorf("写入角色态快照失败（npc=%s）: %v", npcID, err)
		return false
	}

	return true
}

// Recall 按相关性召回至多k条历史片段，拼成可直接注入prompt的文本
// 空查询返回空串；底层检索失败一律吞掉并返回空串（尽力而为的辅助信息）
func (s *Store) Recall(scopeKey, query string, k int) string {
	if query == "" || k <= 0 {
		return ""
	}

	if s.embedder == nil {
		return s.recallRecent(scopeKey, k)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	queryVector, err := s.embedder.Embed(ctx, query)
	cancel()
	if err != nil || len(queryVector) == 0 {
		if err != nil {
			s.logger.Warnf("查询向量化失败，退化为最近召回（scope=%s）: %v", scopeKey, err)
		}
		return s.recallRecent(scopeKey, k)
	}

	rows, err := s.db.Query(`
		SELECT user_message, assistant_message, embedding
		FROM dialogs
		WHERE npc_id = ? AND embedding IS NOT NULL`,
		scopeKey,
	)
	if err != nil {
		s.logger.Errorf("召回检索失败（scope=%s）: %v", scopeKey, err)
		return ""
	}
	defer rows.Close()

	var candidates []scoredExcerpt
	for rows.Next() {
		var userMsg, assistantMsg, embeddingJSON string
		if err := rows.Scan(&userMsg, &assistantMsg, &embeddingJSON); err != nil {
			continue
		}

		var vector []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vector); err != nil || len(vector) == 0 {
			continue
		}

		candidates = append(candidates, scoredExcerpt{
			text:  formatTurnDocument(userMsg, assistantMsg),
			score: cosineSimilarity(queryVector, vector),
		})
	}
	if err := rows.Err(); err != nil {
		s.logger.Errorf("遍历召回候选失败（scope=%s）: %v", scopeKey, err)
		return ""
	}

	if len(candidates) == 0 {
		return ""
	}

	sortByScore(candidates)

	if k > len(candidates) {
		k = len(candidates)
	}

	lines := make([]string, 0, k)
	for i := 0; i < k; i++ {
		lines = append(lines, "- "+candidates[i].text)
	}

	return strings.Join(lines, "\n")
}

// recallRecent 无向量可用时的退化路径：取最近k轮
func (s *Store) recallRecent(scopeKey string, k int) string {
	turns := s.History(scopeKey, k)
	if len(turns) == 0 {
		return ""
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		lines = append(lines, "- "+formatTurnDocument(turn.UserMessage, turn.AssistantMessage))
	}

	return strings.Join(lines, "\n")
}

// formatTurnDocument 一轮对话的可读文本形式（存储与召回共用）
func formatTurnDocument(userMessage, assistantMessage string) string {
	return fmt.Sprintf("用户：%s；角色：%s", userMessage, assistantMessage)
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// scoredExcerpt 候选片段与其余弦相似度
type scoredExcerpt struct {
	text  string
	score float64
}

// cosineSimilarity 计算两个向量的余弦相似度，空向量或零模长返回0
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortByScore 按相似度从高到低排序
// 插入排序即可，候选规模通常很小
func sortByScore(items []scoredExcerpt) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && items[j].score < key.score {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
