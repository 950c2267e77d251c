package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/memflow/memflow/types"
)

// Query defaults carried from observed production behavior.
const (
	DefaultTopK      = 10
	DefaultThreshold = 0.75
)

// QueryOptions controls similarity queries. Zero values select the defaults
// (TopK 10, threshold 0.75). A threshold of exactly 0 is expressed by a
// negative value.
type QueryOptions struct {
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"`
}

func (o QueryOptions) withDefaults() QueryOptions {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Threshold < 0 {
		o.Threshold = 0
	}
	return o
}

// Store 向量记忆存储接口.
//
// Insert is append-only; a stored record is never mutated. Query returns
// records from the given namespace only — cross-namespace leakage is a
// correctness bug, and CrossNamespaceQuery is the sole, explicit opt-in
// exception.
type Store interface {
	// Insert validates and stores a record, returning its id.
	// Rejects empty namespaces and mismatched vector lengths with a
	// VALIDATION_ERROR.
	Insert(ctx context.Context, record types.MemoryRecord) (string, error)

	// Query returns records from namespace ranked by cosine similarity
	// descending, filtered to similarity >= threshold, truncated to topK.
	// Ties break on higher importance, then more recent createdAt.
	Query(ctx context.Context, namespace string, queryVector []float64, opts QueryOptions) ([]types.ScoredRecord, error)

	// CrossNamespaceQuery spans all namespaces. Never the default path.
	CrossNamespaceQuery(ctx context.Context, queryVector []float64, opts QueryOptions) ([]types.ScoredRecord, error)

	// FindByContentHash returns the record with the given content hash in
	// namespace, or false if none exists. Supports caller-side dedup.
	FindByContentHash(ctx context.Context, namespace, hash string) (*types.MemoryRecord, bool, error)

	// Count returns the number of records in namespace ("" counts all).
	Count(ctx context.Context, namespace string) (int, error)

	// Dimensions returns the fixed embedding dimension of this store.
	Dimensions() int

	// Close releases backend resources.
	Close() error
}

// ContentHash computes the dedup key component for a record's content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// DedupKey computes the idempotency key for an interaction:
// hash(namespace, content).
func DedupKey(namespace, content string) string {
	sum := sha256.Sum256([]byte(namespace + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

// CosineSimilarity 计算余弦相似度.
// 零向量的相似度定义为 0 (而不是 NaN), 长度不匹配同样返回 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankResults filters by threshold (inclusive), sorts by similarity
// descending with importance/recency tie-breaks, and truncates to topK.
func rankResults(results []types.ScoredRecord, opts QueryOptions) []types.ScoredRecord {
	filtered := results[:0]
	for _, r := range results {
		if r.Similarity >= opts.Threshold {
			filtered = append(filtered, r)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Similarity != filtered[j].Similarity {
			return filtered[i].Similarity > filtered[j].Similarity
		}
		if filtered[i].Record.Importance != filtered[j].Record.Importance {
			return filtered[i].Record.Importance > filtered[j].Record.Importance
		}
		return filtered[i].Record.CreatedAt.After(filtered[j].Record.CreatedAt)
	})

	if opts.TopK < len(filtered) {
		filtered = filtered[:opts.TopK]
	}
	return filtered
}

// validateRecord 校验插入前的记录. 失败快速返回, 永不重试.
func validateRecord(record types.MemoryRecord, dimension int) error {
	if record.Namespace == "" {
		return types.NewError(types.ErrValidation, "namespace is required")
	}
	if len(record.Embedding) == 0 {
		return types.NewError(types.ErrValidation, "embedding is required")
	}
	if dimension > 0 && len(record.Embedding) != dimension {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("embedding dimension mismatch: got %d want %d", len(record.Embedding), dimension))
	}
	if record.Importance < 0 || record.Importance > 1 {
		return types.NewError(types.ErrValidation, "importance must be in [0,1]")
	}
	return nil
}
