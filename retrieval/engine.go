package retrieval

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/memflow/memflow/embedding"
	"github.com/memflow/memflow/internal/metrics"
	"github.com/memflow/memflow/memory"
	"github.com/memflow/memflow/types"
)

// DefaultTimeout bounds one retrieval including the embedding call.
const DefaultTimeout = 10 * time.Second

// Embedder is the slice of the embedding layer the engine needs.
type Embedder interface {
	EmbedAnnotated(ctx context.Context, text string) (embedding.Annotated, error)
}

// Result carries retrieved records plus how the query vector was produced.
type Result struct {
	Records  []types.ScoredRecord `json:"records"`
	Degraded bool                 `json:"degraded"`
}

// MemoryIDs returns the ids of the retrieved records, in rank order.
func (r *Result) MemoryIDs() []string {
	ids := make([]string, len(r.Records))
	for i, rec := range r.Records {
		ids[i] = rec.Record.ID
	}
	return ids
}

// Config configures the retrieval engine.
type Config struct {
	// Timeout bounds a single Retrieve call. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Engine 检索引擎: embed(queryText) → store.Query, 嵌入失败时降级重试.
type Engine struct {
	store    memory.Store
	embedder Embedder
	timeout  time.Duration
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *metrics.Collector
}

// NewEngine creates a retrieval engine. metrics may be nil.
func NewEngine(store memory.Store, embedder Embedder, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "retrieval_engine")),
		tracer:   otel.Tracer("memflow/retrieval"),
		metrics:  collector,
	}
}

// Retrieve embeds queryText and queries the store within namespace.
// Embedding-provider failure is recoverable: the engine falls back to the
// degraded embedding and still attempts retrieval, annotating the result
// with Degraded=true. A store deadline overrun maps to RETRIEVAL_TIMEOUT.
func (e *Engine) Retrieve(ctx context.Context, namespace, queryText string, opts memory.QueryOptions) (*Result, error) {
	if namespace == "" {
		return nil, types.NewError(types.ErrValidation, "namespace is required")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "retrieval.Retrieve",
		trace.WithAttributes(
			attribute.String("memflow.namespace", namespace),
			attribute.Int("memflow.top_k", opts.TopK),
		))
	defer span.End()

	start := time.Now()

	annotated, err := e.embedder.EmbedAnnotated(ctx, queryText)
	if err != nil {
		// EmbedAnnotated only fails when even the local fallback could
		// not run (context cancelled/expired).
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrRetrievalTimeout, "retrieval deadline exceeded").
				WithCause(err).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrEmbeddingFailure, "embedding failed without fallback").
			WithCause(err).WithRetryable(true)
	}
	span.SetAttributes(attribute.Bool("memflow.degraded", annotated.Degraded))

	queryStart := time.Now()
	records, err := e.store.Query(ctx, namespace, annotated.Vector, opts)
	e.metrics.RecordStoreQuery(namespace, time.Since(queryStart))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrRetrievalTimeout, "store query deadline exceeded").
				WithCause(err).WithRetryable(true)
		}
		return nil, err
	}

	result := &Result{Records: records, Degraded: annotated.Degraded}
	e.metrics.RecordRetrieval(namespace, result.Degraded, len(records), time.Since(start))

	e.logger.Debug("memories retrieved",
		zap.String("namespace", namespace),
		zap.Int("hits", len(records)),
		zap.Bool("degraded", result.Degraded),
		zap.Duration("duration", time.Since(start)),
	)

	return result, nil
}
