// internal/memory/embedder_openai.go
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultEmbeddingBaseURL = "https://api.openai.com/v1"
	defaultEmbeddingModel   = "text-embedding-3-small"
	defaultEmbeddingDim     = 1536
	defaultEmbeddingTimeout = 30 * time.Second
)

// OpenAIEmbedder 通过 OpenAI 兼容的 embeddings 接口生成向量
// base_url 可指向任意兼容端点（代理、本地服务、DashScope兼容模式等）
type OpenAIEmbedder struct {
	apiKey  string
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewOpenAIEmbedder 从配置映射创建Embedder
func NewOpenAIEmbedder(config map[string]string) (*OpenAIEmbedder, error) {
	apiKey := config["api_key"]
	if apiKey == "" {
		return nil, errors.New("embedding API密钥未提供")
	}

	e := &OpenAIEmbedder{
		apiKey:  apiKey,
		baseURL: defaultEmbeddingBaseURL,
		model:   defaultEmbeddingModel,
		dim:     defaultEmbeddingDim,
		client:  &http.Client{Timeout: defaultEmbeddingTimeout},
	}

	if baseURL := config["base_url"]; baseURL != "" {
		e.baseURL = baseURL
	}
	if model := config["model"]; model != "" {
		e.model = model
	}

	return e, nil
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed 调用embeddings接口生成向量
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("文本为空")
	}

	jsonData, err := json.Marshal(embeddingRequest{Input: text, Model: e.model})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		"POST",
		e.baseURL+"/embeddings",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("embedding API错误(%d): %s", httpResp.StatusCode, string(body))
	}

	var response embeddingResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("解析embedding响应失败: %w", err)
	}

	if response.Error != nil {
		return nil, fmt.Errorf("embedding API错误: %s", response.Error.Message)
	}

	if len(response.Data) == 0 || len(response.Data[0].Embedding) == 0 {
		return nil, errors.New("embedding API返回了空向量")
	}

	return response.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dim
}
