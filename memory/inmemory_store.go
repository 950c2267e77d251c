package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memflow/memflow/types"
)

// ====== 内存向量存储（用于测试和小规模应用）======

// InMemoryStoreConfig configures the in-memory store.
type InMemoryStoreConfig struct {
	// Dimension validates stored/queried vectors when > 0.
	Dimension int

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time
}

// namespaceShard holds one namespace's records. The shard mutex serializes
// writes within the namespace; shards of different namespaces never contend.
type namespaceShard struct {
	mu          sync.RWMutex
	records     []types.MemoryRecord
	byHash      map[string]int // content hash -> index of first record
	lastCreated time.Time
}

// InMemoryStore 内存向量存储
type InMemoryStore struct {
	mu        sync.RWMutex
	shards    map[string]*namespaceShard
	dimension int
	now       func() time.Time
	logger    *zap.Logger
}

// NewInMemoryStore 创建内存向量存储
func NewInMemoryStore(cfg InMemoryStoreConfig, logger *zap.Logger) *InMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &InMemoryStore{
		shards:    make(map[string]*namespaceShard),
		dimension: cfg.Dimension,
		now:       now,
		logger:    logger.With(zap.String("component", "memory_store_inmemory")),
	}
}

func (s *InMemoryStore) Dimensions() int { return s.dimension }

func (s *InMemoryStore) shard(namespace string, create bool) *namespaceShard {
	s.mu.RLock()
	sh, ok := s.shards[namespace]
	s.mu.RUnlock()
	if ok || !create {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[namespace]; ok {
		return sh
	}
	sh = &namespaceShard{byHash: make(map[string]int)}
	s.shards[namespace] = sh
	return sh
}

// Insert 添加记录. 同一命名空间内的插入是串行的, 记录一经存储不可变.
func (s *InMemoryStore) Insert(ctx context.Context, record types.MemoryRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateRecord(record, s.dimension); err != nil {
		return "", err
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.ContentHash == "" {
		record.ContentHash = ContentHash(record.Content)
	}
	record.Embedding = append([]float64(nil), record.Embedding...)
	record.Tags = append([]string(nil), record.Tags...)

	sh := s.shard(record.Namespace, true)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	// createdAt 在命名空间内单调非递减
	now := s.now()
	if now.Before(sh.lastCreated) {
		now = sh.lastCreated
	}
	sh.lastCreated = now
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	if _, exists := sh.byHash[record.ContentHash]; !exists {
		sh.byHash[record.ContentHash] = len(sh.records)
	}
	sh.records = append(sh.records, record)

	s.logger.Debug("record inserted",
		zap.String("id", record.ID),
		zap.String("namespace", record.Namespace),
		zap.String("memory_type", string(record.MemoryType)),
	)

	return record.ID, nil
}

// Query 搜索相似记录 — 仅限指定命名空间.
func (s *InMemoryStore) Query(ctx context.Context, namespace string, queryVector []float64, opts QueryOptions) ([]types.ScoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if namespace == "" {
		return nil, types.NewError(types.ErrValidation, "namespace is required")
	}
	if s.dimension > 0 && len(queryVector) != s.dimension {
		return nil, types.NewError(types.ErrValidation, "query vector dimension mismatch")
	}
	opts = opts.withDefaults()

	sh := s.shard(namespace, false)
	if sh == nil {
		return []types.ScoredRecord{}, nil
	}

	sh.mu.RLock()
	results := scoreRecords(sh.records, queryVector)
	sh.mu.RUnlock()

	return rankResults(results, opts), nil
}

// CrossNamespaceQuery 跨命名空间搜索 — 仅限显式选择, 绝不是默认路径.
func (s *InMemoryStore) CrossNamespaceQuery(ctx context.Context, queryVector []float64, opts QueryOptions) ([]types.ScoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.dimension > 0 && len(queryVector) != s.dimension {
		return nil, types.NewError(types.ErrValidation, "query vector dimension mismatch")
	}
	opts = opts.withDefaults()

	s.mu.RLock()
	shards := make([]*namespaceShard, 0, len(s.shards))
	for _, sh := range s.shards {
		shards = append(shards, sh)
	}
	s.mu.RUnlock()

	var results []types.ScoredRecord
	for _, sh := range shards {
		sh.mu.RLock()
		results = append(results, scoreRecords(sh.records, queryVector)...)
		sh.mu.RUnlock()
	}

	return rankResults(results, opts), nil
}

// FindByContentHash returns the first record with the given content hash.
func (s *InMemoryStore) FindByContentHash(ctx context.Context, namespace, hash string) (*types.MemoryRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	sh := s.shard(namespace, false)
	if sh == nil {
		return nil, false, nil
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	idx, ok := sh.byHash[hash]
	if !ok {
		return nil, false, nil
	}
	record := sh.records[idx]
	return &record, true, nil
}

// Count 返回记录计数, namespace 为空时统计全部.
func (s *InMemoryStore) Count(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if namespace != "" {
		sh := s.shard(namespace, false)
		if sh == nil {
			return 0, nil
		}
		sh.mu.RLock()
		defer sh.mu.RUnlock()
		return len(sh.records), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.records)
		sh.mu.RUnlock()
	}
	return total, nil
}

// Stats returns per-namespace and per-type record counts.
func (s *InMemoryStore) Stats(ctx context.Context) (*types.MemoryStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &types.MemoryStats{
		ByNamespace: make(map[string]int),
		ByType:      make(map[string]int),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for ns, sh := range s.shards {
		sh.mu.RLock()
		stats.ByNamespace[ns] = len(sh.records)
		stats.TotalRecords += len(sh.records)
		for _, r := range sh.records {
			stats.ByType[string(r.MemoryType)]++
		}
		sh.mu.RUnlock()
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// scoreRecords 计算所有记录的相似度. 调用方持有分片读锁.
func scoreRecords(records []types.MemoryRecord, queryVector []float64) []types.ScoredRecord {
	results := make([]types.ScoredRecord, 0, len(records))
	for _, rec := range records {
		results = append(results, types.ScoredRecord{
			Record:     rec,
			Similarity: CosineSimilarity(queryVector, rec.Embedding),
		})
	}
	return results
}
