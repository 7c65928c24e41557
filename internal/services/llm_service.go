// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wenren-ai/wenren/internal/llm"
	"github.com/wenren-ai/wenren/internal/utils"
)

// ErrLLMNotReady 服务未就绪（未配置API密钥或提供者初始化失败）
var ErrLLMNotReady = errors.New("LLM服务未就绪")

// LLMService 统一的大语言模型调用入口
// 包装具体提供者，并带一个短TTL的响应缓存（相同prompt复用）
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	isReady       bool
	readyState    string
	defaultModel  string

	cache  *llmCache
	logger *utils.Logger

	// 用量回调（StatsService挂接）
	usageHook func(tokens int)
}

type llmCache struct {
	mutex      sync.RWMutex
	entries    map[string]*cacheEntry
	expiration time.Duration
}

type cacheEntry struct {
	text      string
	createdAt time.Time
}

// NewLLMService 根据配置创建并初始化提供者
// 初始化失败不报错：服务进入未就绪态，调用时返回ErrLLMNotReady
func NewLLMService(providerName string, config map[string]string) *LLMService {
	service := &LLMService{
		providerName: providerName,
		readyState:   "未配置",
		defaultModel: config["default_model"],
		logger:       utils.GetLogger(),
		cache: &llmCache{
			entries:    make(map[string]*cacheEntry),
			expiration: 5 * time.Minute,
		},
	}

	if config["api_key"] == "" {
		service.logger.Warnf("未配置API密钥，LLM服务以未就绪态启动（provider=%s）", providerName)
		return service
	}

	provider, err := llm.GetProvider(providerName, config)
	if err != nil {
		service.readyState = fmt.Sprintf("初始化失败: %v", err)
		service.logger.Errorf("LLM提供者初始化失败（provider=%s）: %v", providerName, err)
		return service
	}

	service.provider = provider
	service.isReady = true
	service.readyState = "就绪"
	return service
}

// SetUsageHook 注册token用量回调
func (s *LLMService) SetUsageHook(hook func(tokens int)) {
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()
	s.usageHook = hook
}

// IsReady 当前是否可以发起生成调用
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.isReady
}

// Status 返回提供者名称与就绪状态描述
func (s *LLMService) Status() (string, string, bool) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName, s.readyState, s.isReady
}

// UpdateProvider 运行时切换/重配提供者
func (s *LLMService) UpdateProvider(providerName string, config map[string]string) error {
	provider, err := llm.GetProvider(providerName, config)
	if err != nil {
		return fmt.Errorf("切换LLM提供者失败: %w", err)
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()
	s.provider = provider
	s.providerName = providerName
	s.defaultModel = config["default_model"]
	s.isReady = true
	s.readyState = "就绪"
	return nil
}

// CompleteText 单轮文本生成，命中缓存时不发起网络调用
func (s *LLMService) CompleteText(ctx context.Context, prompt string) (string, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	model := s.defaultModel
	hook := s.usageHook
	s.providerMutex.RUnlock()

	if !ready || provider == nil {
		return "", ErrLLMNotReady
	}

	cacheKey := fmt.Sprintf("%x", md5.Sum([]byte(model+"\x00"+prompt)))
	if text, ok := s.cache.get(cacheKey); ok {
		return text, nil
	}

	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Model:       model,
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		return "", err
	}

	if hook != nil && resp.TokensUsed > 0 {
		hook(resp.TokensUsed)
	}

	s.cache.set(cacheKey, resp.Text)
	return resp.Text, nil
}

// StreamCompletion 流式生成，透传提供者的增量通道
func (s *LLMService) StreamCompletion(ctx context.Context, prompt string) (<-chan llm.StreamResponse, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	model := s.defaultModel
	s.providerMutex.RUnlock()

	if !ready || provider == nil {
		return nil, ErrLLMNotReady
	}

	return provider.StreamCompletion(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Model:       model,
		Temperature: 0.7,
		MaxTokens:   1000,
	})
}

func (c *llmCache) get(key string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Since(entry.createdAt) > c.expiration {
		return "", false
	}
	return entry.text, true
}

func (c *llmCache) set(key, text string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// 顺手清掉过期项，避免无界增长
	now := time.Now()
	for k, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.expiration {
			delete(c.entries, k)
		}
	}

	c.entries[key] = &cacheEntry{text: text, createdAt: now}
}
