package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/memflow/memflow/types"
)

// ====== Redis 向量存储（分布式部署）======

// Redis key layout:
//
//	memflow:records:<ns>  hash  record id -> JSON record
//	memflow:hashidx:<ns>  hash  content hash -> record id
//	memflow:namespaces    set   known namespaces
const (
	redisRecordsPrefix = "memflow:records:"
	redisHashPrefix    = "memflow:hashidx:"
	redisNamespacesKey = "memflow:namespaces"
)

// RedisStoreConfig configures the Redis-backed store.
type RedisStoreConfig struct {
	// Dimension validates stored/queried vectors when > 0.
	Dimension int

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time
}

// RedisStore persists records in Redis hashes, one hash per namespace, and
// scores queries by brute-force scan over the namespace. Visibility of
// concurrent inserts is eventual: a query sees every insert that completed
// before it started.
type RedisStore struct {
	client    *redis.Client
	dimension int
	now       func() time.Time
	logger    *zap.Logger

	// nsLocks serializes inserts per namespace so createdAt stays
	// monotonically non-decreasing within one namespace.
	nsLocks sync.Map // namespace -> *nsLock
}

type nsLock struct {
	mu          sync.Mutex
	lastCreated time.Time
}

// NewRedisStore 创建 Redis 向量存储.
func NewRedisStore(client *redis.Client, cfg RedisStoreConfig, logger *zap.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		dimension: cfg.Dimension,
		now:       now,
		logger:    logger.With(zap.String("component", "memory_store_redis")),
	}, nil
}

func (s *RedisStore) Dimensions() int { return s.dimension }

func (s *RedisStore) lock(namespace string) *nsLock {
	v, _ := s.nsLocks.LoadOrStore(namespace, &nsLock{})
	return v.(*nsLock)
}

// Insert 添加记录.
func (s *RedisStore) Insert(ctx context.Context, record types.MemoryRecord) (string, error) {
	if err := validateRecord(record, s.dimension); err != nil {
		return "", err
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.ContentHash == "" {
		record.ContentHash = ContentHash(record.Content)
	}

	lk := s.lock(record.Namespace)
	lk.mu.Lock()
	defer lk.mu.Unlock()

	now := s.now()
	if now.Before(lk.lastCreated) {
		now = lk.lastCreated
	}
	lk.lastCreated = now
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisRecordsPrefix+record.Namespace, record.ID, data)
	pipe.HSetNX(ctx, redisHashPrefix+record.Namespace, record.ContentHash, record.ID)
	pipe.SAdd(ctx, redisNamespacesKey, record.Namespace)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", types.NewError(types.ErrStorageWriteFailure, "redis insert failed").
			WithCause(err).WithRetryable(true)
	}

	s.logger.Debug("record inserted",
		zap.String("id", record.ID),
		zap.String("namespace", record.Namespace),
	)

	return record.ID, nil
}

// Query 搜索相似记录 — 仅限指定命名空间.
func (s *RedisStore) Query(ctx context.Context, namespace string, queryVector []float64, opts QueryOptions) ([]types.ScoredRecord, error) {
	if namespace == "" {
		return nil, types.NewError(types.ErrValidation, "namespace is required")
	}
	if s.dimension > 0 && len(queryVector) != s.dimension {
		return nil, types.NewError(types.ErrValidation, "query vector dimension mismatch")
	}
	opts = opts.withDefaults()

	records, err := s.loadNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}

	return rankResults(scoreRecords(records, queryVector), opts), nil
}

// CrossNamespaceQuery 跨命名空间搜索 — 仅限显式选择.
func (s *RedisStore) CrossNamespaceQuery(ctx context.Context, queryVector []float64, opts QueryOptions) ([]types.ScoredRecord, error) {
	if s.dimension > 0 && len(queryVector) != s.dimension {
		return nil, types.NewError(types.ErrValidation, "query vector dimension mismatch")
	}
	opts = opts.withDefaults()

	namespaces, err := s.client.SMembers(ctx, redisNamespacesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}

	var results []types.ScoredRecord
	for _, ns := range namespaces {
		records, err := s.loadNamespace(ctx, ns)
		if err != nil {
			return nil, err
		}
		results = append(results, scoreRecords(records, queryVector)...)
	}

	return rankResults(results, opts), nil
}

// FindByContentHash returns the record with the given content hash.
func (s *RedisStore) FindByContentHash(ctx context.Context, namespace, hash string) (*types.MemoryRecord, bool, error) {
	id, err := s.client.HGet(ctx, redisHashPrefix+namespace, hash).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read hash index: %w", err)
	}

	data, err := s.client.HGet(ctx, redisRecordsPrefix+namespace, id).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read record: %w", err)
	}

	var record types.MemoryRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &record, true, nil
}

// Count 返回记录计数, namespace 为空时统计全部.
func (s *RedisStore) Count(ctx context.Context, namespace string) (int, error) {
	if namespace != "" {
		n, err := s.client.HLen(ctx, redisRecordsPrefix+namespace).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count records: %w", err)
		}
		return int(n), nil
	}

	namespaces, err := s.client.SMembers(ctx, redisNamespacesKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list namespaces: %w", err)
	}
	total := 0
	for _, ns := range namespaces {
		n, err := s.client.HLen(ctx, redisRecordsPrefix+ns).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count records: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) loadNamespace(ctx context.Context, namespace string) ([]types.MemoryRecord, error) {
	raw, err := s.client.HGetAll(ctx, redisRecordsPrefix+namespace).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load namespace %s: %w", namespace, err)
	}

	records := make([]types.MemoryRecord, 0, len(raw))
	for id, data := range raw {
		var record types.MemoryRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			// 损坏的条目跳过并留痕, 不让单条脏数据毁掉整个查询
			s.logger.Warn("skipping corrupt record",
				zap.String("namespace", namespace),
				zap.String("id", id),
				zap.Error(err),
			)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
