package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/memflow/memflow/embedding"
	"github.com/memflow/memflow/types"
)

func newTestStore(t *testing.T, dim int) *InMemoryStore {
	t.Helper()
	return NewInMemoryStore(InMemoryStoreConfig{Dimension: dim}, nil)
}

func mustEmbed(t require.TestingT, dim int, text string) []float64 {
	p, err := embedding.NewHashProvider(dim)
	require.NoError(t, err)
	v, err := p.Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

func TestInMemoryStore_InsertValidation(t *testing.T) {
	store := newTestStore(t, 4)
	ctx := context.Background()

	t.Run("empty namespace rejected", func(t *testing.T) {
		_, err := store.Insert(ctx, types.MemoryRecord{
			Content:   "x",
			Embedding: []float64{1, 2, 3, 4},
		})
		require.Error(t, err)
		assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
		assert.False(t, types.IsRetryable(err))
	})

	t.Run("dimension mismatch rejected", func(t *testing.T) {
		_, err := store.Insert(ctx, types.MemoryRecord{
			Namespace: "data",
			Content:   "x",
			Embedding: []float64{1, 2, 3},
		})
		require.Error(t, err)
		assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	})

	t.Run("missing embedding rejected", func(t *testing.T) {
		_, err := store.Insert(ctx, types.MemoryRecord{Namespace: "data", Content: "x"})
		require.Error(t, err)
	})

	t.Run("importance out of range rejected", func(t *testing.T) {
		_, err := store.Insert(ctx, types.MemoryRecord{
			Namespace:  "data",
			Content:    "x",
			Embedding:  []float64{1, 2, 3, 4},
			Importance: 1.5,
		})
		require.Error(t, err)
	})
}

func TestInMemoryStore_RoundTrip(t *testing.T) {
	const dim = 32
	store := newTestStore(t, dim)
	ctx := context.Background()

	vector := mustEmbed(t, dim, "strategic planning")
	id, err := store.Insert(ctx, types.MemoryRecord{
		Namespace:  "data",
		Content:    "strategic planning",
		Embedding:  vector,
		MemoryType: types.MemoryFact,
		Importance: 0.8,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	results, err := store.Query(ctx, "data", vector, QueryOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].Record.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
}

func TestInMemoryStore_NamespaceIsolation(t *testing.T) {
	const dim = 16
	store := newTestStore(t, dim)
	ctx := context.Background()

	vector := mustEmbed(t, dim, "shared content")
	_, err := store.Insert(ctx, types.MemoryRecord{
		Namespace: "alpha",
		Content:   "shared content",
		Embedding: vector,
	})
	require.NoError(t, err)

	results, err := store.Query(ctx, "beta", vector, QueryOptions{Threshold: -1})
	require.NoError(t, err)
	assert.Empty(t, results, "record from alpha leaked into beta")
}

func TestInMemoryStore_CrossNamespaceOptIn(t *testing.T) {
	const dim = 16
	store := newTestStore(t, dim)
	ctx := context.Background()

	vector := mustEmbed(t, dim, "shared content")
	for _, ns := range []string{"alpha", "beta"} {
		_, err := store.Insert(ctx, types.MemoryRecord{
			Namespace: ns,
			Content:   "shared content",
			Embedding: vector,
		})
		require.NoError(t, err)
	}

	results, err := store.CrossNamespaceQuery(ctx, vector, QueryOptions{Threshold: -1})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestInMemoryStore_ScenarioTopKThreshold(t *testing.T) {
	const dim = 64
	store := newTestStore(t, dim)
	ctx := context.Background()

	contents := []string{"strategic planning", "tactical execution", "financial analysis"}
	for _, c := range contents {
		_, err := store.Insert(ctx, types.MemoryRecord{
			Namespace: "data",
			Content:   c,
			Embedding: mustEmbed(t, dim, c),
		})
		require.NoError(t, err)
	}

	query := mustEmbed(t, dim, "strategic planning")
	results, err := store.Query(ctx, "data", query, QueryOptions{TopK: 2, Threshold: 0.75})
	require.NoError(t, err)

	require.NotEmpty(t, results)
	assert.Equal(t, "strategic planning", results[0].Record.Content)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.LessOrEqual(t, len(results), 2)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.75)
	}
}

func TestInMemoryStore_CreatedAtMonotonic(t *testing.T) {
	// A clock that jumps backwards must not produce out-of-order createdAt.
	times := []time.Time{
		time.Date(2026, 2, 1, 0, 0, 2, 0, time.UTC),
		time.Date(2026, 2, 1, 0, 0, 1, 0, time.UTC), // backwards
		time.Date(2026, 2, 1, 0, 0, 3, 0, time.UTC),
	}
	i := 0
	store := NewInMemoryStore(InMemoryStoreConfig{Dimension: 2, Now: func() time.Time {
		ts := times[i%len(times)]
		i++
		return ts
	}}, nil)
	ctx := context.Background()

	var prev time.Time
	for n := 0; n < 3; n++ {
		_, err := store.Insert(ctx, types.MemoryRecord{
			Namespace: "ns",
			Content:   fmt.Sprintf("c%d", n),
			Embedding: []float64{1, 0},
		})
		require.NoError(t, err)
	}

	results, err := store.Query(ctx, "ns", []float64{1, 0}, QueryOptions{Threshold: -1})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Record.CreatedAt.Before(prev) && !prev.IsZero())
		if r.Record.CreatedAt.After(prev) {
			prev = r.Record.CreatedAt
		}
	}
}

func TestInMemoryStore_FindByContentHash(t *testing.T) {
	store := newTestStore(t, 2)
	ctx := context.Background()

	id, err := store.Insert(ctx, types.MemoryRecord{
		Namespace: "ns",
		Content:   "hello",
		Embedding: []float64{1, 0},
	})
	require.NoError(t, err)

	rec, ok, err := store.FindByContentHash(ctx, "ns", ContentHash("hello"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, rec.ID)

	_, ok, err = store.FindByContentHash(ctx, "ns", ContentHash("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.FindByContentHash(ctx, "other", ContentHash("hello"))
	require.NoError(t, err)
	assert.False(t, ok, "hash index leaked across namespaces")
}

func TestInMemoryStore_CountAndStats(t *testing.T) {
	store := newTestStore(t, 2)
	ctx := context.Background()

	for n := 0; n < 3; n++ {
		_, err := store.Insert(ctx, types.MemoryRecord{
			Namespace:  "a",
			Content:    fmt.Sprintf("a%d", n),
			Embedding:  []float64{1, 0},
			MemoryType: types.MemoryFact,
		})
		require.NoError(t, err)
	}
	_, err := store.Insert(ctx, types.MemoryRecord{
		Namespace:  "b",
		Content:    "b0",
		Embedding:  []float64{0, 1},
		MemoryType: types.MemoryInteraction,
	})
	require.NoError(t, err)

	n, err := store.Count(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalRecords)
	assert.Equal(t, 3, stats.ByNamespace["a"])
	assert.Equal(t, 1, stats.ByType[string(types.MemoryInteraction)])
}

func TestInMemoryStore_ConcurrentInsertQuery(t *testing.T) {
	store := newTestStore(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ns := fmt.Sprintf("ns-%d", g%2)
			for n := 0; n < 50; n++ {
				_, err := store.Insert(ctx, types.MemoryRecord{
					Namespace: ns,
					Content:   fmt.Sprintf("g%d-n%d", g, n),
					Embedding: []float64{1, 0, 0, 0},
				})
				assert.NoError(t, err)
				_, err = store.Query(ctx, ns, []float64{1, 0, 0, 0}, QueryOptions{Threshold: -1, TopK: 5})
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	total, err := store.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 8*50, total)
}

// Property: query results are non-increasing in similarity, never leak
// namespaces, and honor the inclusive threshold.
func TestInMemoryStore_QueryProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const dim = 8
		store := NewInMemoryStore(InMemoryStoreConfig{Dimension: dim}, nil)
		ctx := context.Background()

		namespaces := []string{"a", "b", "c"}
		count := rapid.IntRange(1, 25).Draw(t, "count")
		for n := 0; n < count; n++ {
			ns := rapid.SampledFrom(namespaces).Draw(t, "ns")
			vec := make([]float64, dim)
			for d := range vec {
				vec[d] = rapid.Float64Range(-1, 1).Draw(t, "component")
			}
			_, err := store.Insert(ctx, types.MemoryRecord{
				Namespace:  ns,
				Content:    fmt.Sprintf("rec-%d", n),
				Embedding:  vec,
				Importance: rapid.Float64Range(0, 1).Draw(t, "importance"),
			})
			if err != nil {
				t.Fatalf("insert failed: %v", err)
			}
		}

		query := make([]float64, dim)
		for d := range query {
			query[d] = rapid.Float64Range(-1, 1).Draw(t, "query")
		}
		threshold := rapid.Float64Range(0.01, 0.99).Draw(t, "threshold")
		topK := rapid.IntRange(1, 30).Draw(t, "topK")

		queryNS := rapid.SampledFrom(namespaces).Draw(t, "queryNS")
		results, err := store.Query(ctx, queryNS, query, QueryOptions{TopK: topK, Threshold: threshold})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}

		if len(results) > topK {
			t.Fatalf("got %d results, topK %d", len(results), topK)
		}
		for i, r := range results {
			if r.Record.Namespace != queryNS {
				t.Fatalf("namespace leak: queried %s got %s", queryNS, r.Record.Namespace)
			}
			if r.Similarity < threshold {
				t.Fatalf("result below threshold: %v < %v", r.Similarity, threshold)
			}
			if i > 0 && results[i-1].Similarity < r.Similarity {
				t.Fatalf("results not non-increasing at %d: %v < %v", i, results[i-1].Similarity, r.Similarity)
			}
		}
	})
}
