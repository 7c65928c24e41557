// internal/services/stats_service.go
package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wenren-ai/wenren/internal/utils"
)

// UsageStats API使用统计
type UsageStats struct {
	TodayRequests int            `json:"today_requests"`
	MonthlyTokens int            `json:"monthly_tokens"`
	DailyStats    map[string]int `json:"daily_stats"`
	NPCStats      map[string]int `json:"npc_stats"`
	LastUpdated   time.Time      `json:"last_updated"`
}

// StatsService 统计对话请求量与token用量
// 内存计数 + 脏标记批量落盘，崩溃最多丢一个保存周期的增量
type StatsService struct {
	statsFile string
	mutex     sync.Mutex
	stats     *UsageStats
	isDirty   bool

	stopSave chan struct{}
	saveDone chan struct{}
	logger   *utils.Logger
}

// NewStatsService 创建统计服务并加载历史数据
func NewStatsService(basePath string) *StatsService {
	logger := utils.GetLogger()

	if err := os.MkdirAll(basePath, 0755); err != nil {
		logger.Warnf("创建统计目录失败: %v", err)
	}

	service := &StatsService{
		statsFile: filepath.Join(basePath, "usage_stats.json"),
		stopSave:  make(chan struct{}),
		saveDone:  make(chan struct{}),
		logger:    logger,
	}

	service.stats = service.loadOrInit()
	go service.periodicSave()

	return service
}

func (s *StatsService) loadOrInit() *UsageStats {
	stats := &UsageStats{
		DailyStats:  make(map[string]int),
		NPCStats:    make(map[string]int),
		LastUpdated: time.Now(),
	}

	data, err := os.ReadFile(s.statsFile)
	if err != nil {
		return stats
	}

	if err := json.Unmarshal(data, stats); err != nil {
		s.logger.Warnf("统计文件损坏，重新计数: %v", err)
		return &UsageStats{
			DailyStats:  make(map[string]int),
			NPCStats:    make(map[string]int),
			LastUpdated: time.Now(),
		}
	}

	if stats.DailyStats == nil {
		stats.DailyStats = make(map[string]int)
	}
	if stats.NPCStats == nil {
		stats.NPCStats = make(map[string]int)
	}

	// 跨天/跨月后重置相应计数
	now := time.Now()
	if now.Format("2006-01-02") != stats.LastUpdated.Format("2006-01-02") {
		stats.TodayRequests = 0
	}
	if now.Format("2006-01") != stats.LastUpdated.Format("2006-01") {
		stats.MonthlyTokens = 0
	}

	return stats
}

// RecordChat 记录一次对话请求
func (s *StatsService) RecordChat(npcID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	today := time.Now().Format("2006-01-02")
	s.stats.TodayRequests++
	s.stats.DailyStats[today]++
	s.stats.NPCStats[npcID]++
	s.stats.LastUpdated = time.Now()
	s.isDirty = true
}

// RecordTokens 记录token消耗（LLMService的用量回调）
func (s *StatsService) RecordTokens(tokens int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.stats.MonthlyTokens += tokens
	s.stats.LastUpdated = time.Now()
	s.isDirty = true
}

// GetStats 返回统计快照
func (s *StatsService) GetStats() UsageStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	snapshot := *s.stats
	snapshot.DailyStats = make(map[string]int, len(s.stats.DailyStats))
	for k, v := range s.stats.DailyStats {
		snapshot.DailyStats[k] = v
	}
	snapshot.NPCStats = make(map[string]int, len(s.stats.NPCStats))
	for k, v := range s.stats.NPCStats {
		snapshot.NPCStats[k] = v
	}

	return snapshot
}

func (s *StatsService) periodicSave() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer close(s.saveDone)

	for {
		select {
		case <-ticker.C:
			s.saveIfDirty()
		case <-s.stopSave:
			s.saveIfDirty()
			return
		}
	}
}

func (s *StatsService) saveIfDirty() {
	s.mutex.Lock()
	if !s.isDirty {
		s.mutex.Unlock()
		return
	}

	data, err := json.MarshalIndent(s.stats, "", "  ")
	s.isDirty = false
	s.mutex.Unlock()

	if err != nil {
		s.logger.Errorf("序列化统计数据失败: %v", err)
		return
	}

	tmpFile := s.statsFile + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		s.logger.Errorf("写入统计数据失败: %v", err)
		return
	}
	if err := os.Rename(tmpFile, s.statsFile); err != nil {
		s.logger.Errorf("替换统计文件失败: %v", err)
	}
}

// Shutdown 停止后台保存并落盘未保存的增量
func (s *StatsService) Shutdown() {
	close(s.stopSave)
	<-s.saveDone
}
