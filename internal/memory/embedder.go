// internal/memory/embedder.go
package memory

import (
	"context"
)

// Embedder 将文本编码为向量，供相关性召回使用
// 配置缺省时整个记忆层可以在没有 Embedder 的情况下运行，召回退化为按时间取最近
type Embedder interface {
	// Embed 生成文本的向量表示
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions 返回向量维度
	Dimensions() int
}

// NoopEmbedder 不做任何事的占位实现，用于关闭向量召回的部署与测试
type NoopEmbedder struct {
	Dim int
}

func (n *NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

func (n *NoopEmbedder) Dimensions() int {
	if n.Dim > 0 {
		return n.Dim
	}
	return 0
}
