package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/memflow/memflow/types"
)

// ====== GORM 向量存储（单机持久化: SQLite / PostgreSQL / MySQL）======

// memoryRow is the GORM persistence model for a MemoryRecord. The embedding
// and tags are stored as JSON text so the schema works across all three
// supported drivers.
type memoryRow struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Namespace   string    `gorm:"size:128;not null;index:idx_memory_ns;index:idx_memory_ns_hash,priority:1"`
	Content     string    `gorm:"type:text"`
	Embedding   string    `gorm:"type:text;not null"`
	MemoryType  string    `gorm:"size:32"`
	Importance  float64   `gorm:""`
	Tags        string    `gorm:"type:text"`
	ContentHash string    `gorm:"size:64;index:idx_memory_ns_hash,priority:2"`
	Degraded    bool      `gorm:""`
	Metadata    string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
}

func (memoryRow) TableName() string { return "memory_records" }

// GormStoreConfig configures the GORM-backed store.
type GormStoreConfig struct {
	// Driver is one of "sqlite", "postgres", "mysql".
	Driver string

	// DSN is the driver-specific connection string.
	DSN string

	// Dimension validates stored/queried vectors when > 0.
	Dimension int

	// AutoMigrate creates/updates the schema at startup. Production
	// deployments normally run the migration CLI instead.
	AutoMigrate bool

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time
}

// GormStore persists records via GORM and scores queries by brute-force scan
// over the namespace's rows.
type GormStore struct {
	db        *gorm.DB
	dimension int
	now       func() time.Time
	logger    *zap.Logger
	nsLocks   sync.Map // namespace -> *nsLock
}

// OpenGorm opens a database handle for the configured driver.
func OpenGorm(cfg GormStoreConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	switch cfg.Driver {
	case "sqlite", "":
		return gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	case "mysql":
		return gorm.Open(mysql.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// NewGormStore 创建 GORM 向量存储.
func NewGormStore(db *gorm.DB, cfg GormStoreConfig, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&memoryRow{}); err != nil {
			return nil, fmt.Errorf("failed to auto migrate: %w", err)
		}
	}

	return &GormStore{
		db:        db,
		dimension: cfg.Dimension,
		now:       now,
		logger:    logger.With(zap.String("component", "memory_store_gorm")),
	}, nil
}

func (s *GormStore) Dimensions() int { return s.dimension }

func (s *GormStore) lock(namespace string) *nsLock {
	v, _ := s.nsLocks.LoadOrStore(namespace, &nsLock{})
	return v.(*nsLock)
}

// Insert 添加记录.
func (s *GormStore) Insert(ctx context.Context, record types.MemoryRecord) (string, error) {
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

	row, err := toRow(record)
	if err != nil {
		return "", err
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", types.NewError(types.ErrStorageWriteFailure, "database insert failed").
			WithCause(err).WithRetryable(true)
	}

	s.logger.Debug("record inserted",
		zap.String("id", record.ID),
		zap.String("namespace", record.Namespace),
	)

	return record.ID, nil
}

// Query 搜索相似记录 — 仅限指定命名空间.
func (s *GormStore) Query(ctx context.Context, namespace string, queryVector []float64, opts QueryOptions) ([]types.ScoredRecord, error) {
	if namespace == "" {
		return nil, types.NewError(types.ErrValidation, "namespace is required")
	}
	if s.dimension > 0 && len(queryVector) != s.dimension {
		return nil, types.NewError(types.ErrValidation, "query vector dimension mismatch")
	}
	opts = opts.withDefaults()

	var rows []memoryRow
	if err := s.db.WithContext(ctx).Where("namespace = ?", namespace).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load namespace %s: %w", namespace, err)
	}

	records, err := fromRows(rows)
	if err != nil {
		return nil, err
	}
	return rankResults(scoreRecords(records, queryVector), opts), nil
}

// CrossNamespaceQuery 跨命名空间搜索 — 仅限显式选择.
func (s *GormStore) CrossNamespaceQuery(ctx context.Context, queryVector []float64, opts QueryOptions) ([]types.ScoredRecord, error) {
	if s.dimension > 0 && len(queryVector) != s.dimension {
		return nil, types.NewError(types.ErrValidation, "query vector dimension mismatch")
	}
	opts = opts.withDefaults()

	var rows []memoryRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	records, err := fromRows(rows)
	if err != nil {
		return nil, err
	}
	return rankResults(scoreRecords(records, queryVector), opts), nil
}

// FindByContentHash returns the oldest record with the given content hash.
func (s *GormStore) FindByContentHash(ctx context.Context, namespace, hash string) (*types.MemoryRecord, bool, error) {
	var row memoryRow
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND content_hash = ?", namespace, hash).
		Order("created_at ASC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up content hash: %w", err)
	}

	record, err := fromRow(row)
	if err != nil {
		return nil, false, err
	}
	return &record, true, nil
}

// Count 返回记录计数, namespace 为空时统计全部.
func (s *GormStore) Count(ctx context.Context, namespace string) (int, error) {
	var count int64
	q := s.db.WithContext(ctx).Model(&memoryRow{})
	if namespace != "" {
		q = q.Where("namespace = ?", namespace)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(count), nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(record types.MemoryRecord) (memoryRow, error) {
	embedding, err := json.Marshal(record.Embedding)
	if err != nil {
		return memoryRow{}, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	tags, err := json.Marshal(record.Tags)
	if err != nil {
		return memoryRow{}, fmt.Errorf("failed to marshal tags: %w", err)
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return memoryRow{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return memoryRow{
		ID:          record.ID,
		Namespace:   record.Namespace,
		Content:     record.Content,
		Embedding:   string(embedding),
		MemoryType:  string(record.MemoryType),
		Importance:  record.Importance,
		Tags:        string(tags),
		ContentHash: record.ContentHash,
		Degraded:    record.Degraded,
		Metadata:    string(metadata),
		CreatedAt:   record.CreatedAt,
	}, nil
}

func fromRow(row memoryRow) (types.MemoryRecord, error) {
	record := types.MemoryRecord{
		ID:          row.ID,
		Namespace:   row.Namespace,
		Content:     row.Content,
		MemoryType:  types.MemoryType(row.MemoryType),
		Importance:  row.Importance,
		ContentHash: row.ContentHash,
		Degraded:    row.Degraded,
		CreatedAt:   row.CreatedAt,
	}
	if err := json.Unmarshal([]byte(row.Embedding), &record.Embedding); err != nil {
		return record, fmt.Errorf("failed to unmarshal embedding for %s: %w", row.ID, err)
	}
	if row.Tags != "" {
		if err := json.Unmarshal([]byte(row.Tags), &record.Tags); err != nil {
			return record, fmt.Errorf("failed to unmarshal tags for %s: %w", row.ID, err)
		}
	}
	if row.Metadata != "" && row.Metadata != "null" {
		if err := json.Unmarshal([]byte(row.Metadata), &record.Metadata); err != nil {
			return record, fmt.Errorf("failed to unmarshal metadata for %s: %w", row.ID, err)
		}
	}
	return record, nil
}

func fromRows(rows []memoryRow) ([]types.MemoryRecord, error) {
	records := make([]types.MemoryRecord, 0, len(rows))
	for _, row := range rows {
		record, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
