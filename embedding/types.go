package embedding

import "context"

// Provider 定义统一的嵌入提供者接口.
//
// 约束: 对相同输入, 同一提供者配置下 Embed 必须返回相同的向量
// (确定性是可测试性的前提). 返回向量长度恒等于 Dimensions().
type Provider interface {
	// Embed 为单条文本生成嵌入向量.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch 为多条文本生成嵌入向量, 结果顺序与输入一致.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Name 返回提供者名称.
	Name() string

	// Dimensions 返回嵌入维度.
	Dimensions() int
}

// Annotated 表示一次嵌入的结果及其来源标记.
type Annotated struct {
	// Vector 是嵌入向量.
	Vector []float64 `json:"vector"`

	// Degraded 表示该向量来自本地降级路径而非主提供者.
	Degraded bool `json:"degraded"`

	// Provider 是实际生成该向量的提供者名称.
	Provider string `json:"provider"`
}
