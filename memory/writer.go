package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memflow/memflow/embedding"
	"github.com/memflow/memflow/types"
)

// DefaultDedupWindow bounds how long an exact-duplicate interaction is
// treated as a retry rather than a new memory.
const DefaultDedupWindow = 5 * time.Minute

// Embedder is the slice of the embedding layer the writer needs.
type Embedder interface {
	EmbedAnnotated(ctx context.Context, text string) (embedding.Annotated, error)
}

// DedupIndex marks interaction keys first-seen within a window. SetNX
// returns true when the key was newly set, false when it already existed.
type DedupIndex interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// WriterConfig configures the interaction writer.
type WriterConfig struct {
	// DedupWindow is how long hash(namespace, content) suppresses
	// duplicate writes. Defaults to DefaultDedupWindow.
	DedupWindow time.Duration

	// Importance assigned to interaction records. Defaults to 0.5.
	Importance float64
}

// Writer persists (query, response) interactions back into the store so the
// system learns from its own interactions. Writes are idempotent against
// exact duplicates within the dedup window; a retried request returns the
// already-stored record's id instead of growing memory.
type Writer struct {
	store    Store
	embedder Embedder
	dedup    DedupIndex
	window   time.Duration
	imp      float64
	logger   *zap.Logger
}

// NewWriter creates a Writer. A nil dedup index falls back to an in-process
// TTL index, which is sufficient for single-node deployments.
func NewWriter(store Store, embedder Embedder, dedup DedupIndex, cfg WriterConfig, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedup == nil {
		dedup = newInprocDedup()
	}
	window := cfg.DedupWindow
	if window <= 0 {
		window = DefaultDedupWindow
	}
	imp := cfg.Importance
	if imp <= 0 || imp > 1 {
		imp = 0.5
	}
	return &Writer{
		store:    store,
		embedder: embedder,
		dedup:    dedup,
		window:   window,
		imp:      imp,
		logger:   logger.With(zap.String("component", "memory_writer")),
	}
}

// WriteInteraction embeds query+response and inserts an interaction record.
// The embedded text is always "query\nresponse" so repeated writes of the
// same interaction produce the same content hash.
func (w *Writer) WriteInteraction(ctx context.Context, namespace, query, response string) (string, error) {
	if namespace == "" {
		return "", types.NewError(types.ErrValidation, "namespace is required")
	}

	content := query + "\n" + response
	key := "memflow:dedup:" + DedupKey(namespace, content)

	fresh, err := w.dedup.SetNX(ctx, key, w.window)
	if err != nil {
		// Dedup index trouble must not lose the interaction; fall through
		// to the content-hash check on the store itself.
		w.logger.Warn("dedup index unavailable", zap.Error(err))
		fresh = true
	}
	if !fresh {
		if existing, ok, err := w.store.FindByContentHash(ctx, namespace, ContentHash(content)); err == nil && ok {
			w.logger.Debug("duplicate interaction suppressed",
				zap.String("namespace", namespace),
				zap.String("id", existing.ID),
			)
			return existing.ID, nil
		}
		// Index said duplicate but the record is gone; write anyway.
	}

	annotated, err := w.embedder.EmbedAnnotated(ctx, content)
	if err != nil {
		return "", types.NewError(types.ErrStorageWriteFailure, "failed to embed interaction").
			WithCause(err).WithRetryable(true)
	}

	record := types.MemoryRecord{
		Namespace:  namespace,
		Content:    content,
		Embedding:  annotated.Vector,
		MemoryType: types.MemoryInteraction,
		Importance: w.imp,
		Degraded:   annotated.Degraded,
		Metadata: map[string]any{
			"embedding_provider": annotated.Provider,
		},
	}

	id, err := w.store.Insert(ctx, record)
	if err != nil {
		if types.GetErrorCode(err) == types.ErrValidation {
			return "", err
		}
		return "", types.NewError(types.ErrStorageWriteFailure, "failed to persist interaction").
			WithCause(err).WithRetryable(true)
	}

	w.logger.Debug("interaction written",
		zap.String("namespace", namespace),
		zap.String("id", id),
		zap.Bool("degraded", annotated.Degraded),
	)
	return id, nil
}

// ====== 进程内去重索引 ======

// inprocDedup is a small TTL set. Expired entries are reaped lazily on
// access and on a size threshold sweep.
type inprocDedup struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
	now     func() time.Time
}

func newInprocDedup() *inprocDedup {
	return &inprocDedup{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (d *inprocDedup) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if expiry, ok := d.entries[key]; ok && expiry.After(now) {
		return false, nil
	}

	if len(d.entries) > 4096 {
		for k, expiry := range d.entries {
			if !expiry.After(now) {
				delete(d.entries, k)
			}
		}
	}

	d.entries[key] = now.Add(ttl)
	return true, nil
}
