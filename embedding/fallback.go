package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FallbackProvider 包装主提供者与本地哈希降级提供者.
// 主提供者失败时返回降级向量并标记 Degraded=true; 降级向量与主向量
// 的区别对调用方始终可见, 不会被默默混用.
type FallbackProvider struct {
	primary  Provider
	fallback *HashProvider
	logger   *zap.Logger
}

// NewFallbackProvider 创建降级包装. primary 为 nil 时所有请求走降级路径.
func NewFallbackProvider(primary Provider, dimensions int, logger *zap.Logger) (*FallbackProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if primary != nil && primary.Dimensions() != dimensions {
		return nil, fmt.Errorf("primary provider dimensions %d do not match store dimensions %d",
			primary.Dimensions(), dimensions)
	}
	fb, err := NewHashProvider(dimensions)
	if err != nil {
		return nil, err
	}
	return &FallbackProvider{
		primary:  primary,
		fallback: fb,
		logger:   logger.With(zap.String("component", "embedding_fallback")),
	}, nil
}

func (p *FallbackProvider) Dimensions() int { return p.fallback.Dimensions() }

func (p *FallbackProvider) Name() string {
	if p.primary != nil {
		return p.primary.Name()
	}
	return p.fallback.Name()
}

// EmbedAnnotated 生成嵌入并标注来源. 主提供者失败不是致命错误:
// 记录日志后降级, 仅当降级路径本身失败 (上下文取消) 时返回错误.
func (p *FallbackProvider) EmbedAnnotated(ctx context.Context, text string) (Annotated, error) {
	if p.primary != nil {
		vector, err := p.primary.Embed(ctx, text)
		if err == nil {
			return Annotated{Vector: vector, Degraded: false, Provider: p.primary.Name()}, nil
		}
		// 上下文已取消时不降级, 直接失败
		if ctx.Err() != nil {
			return Annotated{}, ctx.Err()
		}
		p.logger.Warn("primary embedding provider failed, using degraded fallback",
			zap.String("provider", p.primary.Name()),
			zap.Error(err),
		)
	}

	vector, err := p.fallback.Embed(ctx, text)
	if err != nil {
		return Annotated{}, err
	}
	return Annotated{Vector: vector, Degraded: true, Provider: p.fallback.Name()}, nil
}

// Embed 实现 Provider 接口, 丢弃降级标记. 需要标记时用 EmbedAnnotated.
func (p *FallbackProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	annotated, err := p.EmbedAnnotated(ctx, text)
	if err != nil {
		return nil, err
	}
	return annotated.Vector, nil
}

// EmbedBatch 为多条文本生成嵌入.
func (p *FallbackProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}
