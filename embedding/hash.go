package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// HashProvider 是本地确定性的降级嵌入实现: 将 SHA-256 摘要扩展为
// 固定长度的浮点向量. 它不承载任何语义, 只保证确定性与维度契约,
// 仅用于主提供者不可用时的降级路径.
type HashProvider struct {
	dimensions int
}

// NewHashProvider 创建哈希降级提供者.
func NewHashProvider(dimensions int) (*HashProvider, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &HashProvider{dimensions: dimensions}, nil
}

func (p *HashProvider) Name() string    { return "hash-fallback" }
func (p *HashProvider) Dimensions() int { return p.dimensions }

// Embed 将文本确定性地映射为 [-1,1] 区间的向量.
// 相同输入永远得到相同向量; 不同输入几乎必然得到不同向量.
func (p *HashProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seed := sha256.Sum256([]byte(text))
	vector := make([]float64, 0, p.dimensions)

	var counter uint32
	for len(vector) < p.dimensions {
		var block [sha256.Size + 4]byte
		copy(block[:], seed[:])
		binary.BigEndian.PutUint32(block[sha256.Size:], counter)
		digest := sha256.Sum256(block[:])

		// 每个摘要产出 4 个 float64 (8 字节一个)
		for off := 0; off+8 <= len(digest) && len(vector) < p.dimensions; off += 8 {
			u := binary.BigEndian.Uint64(digest[off : off+8])
			// 映射到 [-1, 1]
			vector = append(vector, float64(u)/math.MaxUint64*2-1)
		}
		counter++
	}

	return vector, nil
}

// EmbedBatch 为多条文本生成降级向量.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
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
