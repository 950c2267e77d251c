package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memflow/memflow/agent"
	"github.com/memflow/memflow/memory"
	"github.com/memflow/memflow/retrieval"
	"github.com/memflow/memflow/types"
)

// stubDirectory resolves any agent id to a minimal configuration.
type stubDirectory struct {
	missing map[string]bool
}

func (d *stubDirectory) Get(id string) (types.AgentConfig, error) {
	if d.missing[id] {
		return types.AgentConfig{}, types.NewError(types.ErrAgentNotFound, "unknown agent: "+id)
	}
	return types.AgentConfig{ID: id, Name: id, Style: types.StyleConcise}, nil
}

type stubRetriever struct{}

func (stubRetriever) Retrieve(ctx context.Context, namespace, queryText string, opts memory.QueryOptions) (*retrieval.Result, error) {
	return &retrieval.Result{
		Records: []types.ScoredRecord{{
			Record:     types.MemoryRecord{ID: "mem-" + namespace, Content: "context for " + namespace},
			Similarity: 0.9,
		}},
	}, nil
}

// scriptedGenerator records invocation order and inputs, and fails on
// demand per agent id.
type scriptedGenerator struct {
	mu       sync.Mutex
	order    []string
	inputs   map[string]string
	fail     map[string]error
	failures map[string]int // remaining failures before success
	block    bool
}

func newScriptedGenerator() *scriptedGenerator {
	return &scriptedGenerator{
		inputs:   make(map[string]string),
		fail:     make(map[string]error),
		failures: make(map[string]int),
	}
}

func (g *scriptedGenerator) Generate(ctx context.Context, cfg types.AgentConfig, query string, retrieved []types.ScoredRecord) (*agent.Response, error) {
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	g.mu.Lock()
	g.order = append(g.order, cfg.ID)
	g.inputs[cfg.ID] = query
	if n := g.failures[cfg.ID]; n > 0 {
		g.failures[cfg.ID] = n - 1
		g.mu.Unlock()
		return nil, types.NewError(types.ErrEmbeddingFailure, "transient").WithRetryable(true)
	}
	err := g.fail[cfg.ID]
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &agent.Response{Text: "out:" + cfg.ID, Confidence: 0.8, Provider: "scripted"}, nil
}

type recordingWriter struct {
	mu     sync.Mutex
	writes []string
	err    error
}

func (w *recordingWriter) WriteInteraction(ctx context.Context, namespace, query, response string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return "", w.err
	}
	w.writes = append(w.writes, namespace)
	return "id-" + namespace, nil
}

func fastConfig() Config {
	return Config{
		StepTimeout: 2 * time.Second,
		Retry:       RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
}

func newTestOrchestrator(gen *scriptedGenerator, writer InteractionWriter) *Orchestrator {
	return NewOrchestrator(stubRetriever{}, gen, writer, &stubDirectory{}, fastConfig(), nil, nil)
}

func linearChain(policy types.FailurePolicy, agents ...string) ChainDefinition {
	def := ChainDefinition{WorkflowID: "wf", FailurePolicy: policy}
	for i, id := range agents {
		step := StepDefinition{AgentID: id}
		if i > 0 {
			step.DependsOn = []int{i - 1}
		}
		def.Steps = append(def.Steps, step)
	}
	return def
}

func TestOrchestrator_LinearChain(t *testing.T) {
	gen := newScriptedGenerator()
	o := newTestOrchestrator(gen, nil)

	chain, err := o.Run(context.Background(), linearChain(types.AbortOnFailure, "a", "b", "c"), "trigger question")
	require.NoError(t, err)

	assert.Equal(t, types.ChainCompleted, chain.Status)
	snap := chain.Snapshot()
	for _, s := range snap.Steps {
		assert.Equal(t, types.StepSucceeded, s.Status)
		require.NotNil(t, s.Output)
		assert.NotNil(t, s.StartedAt)
		assert.NotNil(t, s.FinishedAt)
	}

	// 线性链严格按依赖顺序执行
	assert.Equal(t, []string{"a", "b", "c"}, gen.order)
	assert.Equal(t, "trigger question", gen.inputs["a"])
	assert.Equal(t, "out:a", gen.inputs["b"])
	assert.Equal(t, "out:b", gen.inputs["c"])

	// 审计轨迹只保存记录 id, 不保存向量
	assert.Equal(t, []string{"mem-a"}, snap.Steps[0].ContextIn)
}

func TestOrchestrator_AbortOnFailure(t *testing.T) {
	gen := newScriptedGenerator()
	gen.fail["b"] = types.NewError(types.ErrAgentGenerationFailure, "model broke")
	o := newTestOrchestrator(gen, nil)

	chain, err := o.Run(context.Background(), linearChain(types.AbortOnFailure, "a", "b", "c"), "q")
	require.NoError(t, err)

	assert.Equal(t, types.ChainFailed, chain.Status)
	snap := chain.Snapshot()
	assert.Equal(t, types.StepSucceeded, snap.Steps[0].Status)
	assert.Equal(t, types.StepFailed, snap.Steps[1].Status)
	assert.Equal(t, types.StepSkipped, snap.Steps[2].Status)

	// 失败步骤必须带非空错误分类
	assert.Equal(t, string(types.ErrAgentGenerationFailure), snap.Steps[1].Error)
	// 被跳过的步骤从未启动
	assert.NotContains(t, gen.order, "c")
}

func TestOrchestrator_ContinueWithDegradedContext(t *testing.T) {
	gen := newScriptedGenerator()
	gen.fail["a"] = types.NewError(types.ErrAgentGenerationFailure, "model broke")
	o := newTestOrchestrator(gen, nil)

	chain, err := o.Run(context.Background(), linearChain(types.ContinueWithDegradedContext, "a", "b"), "the trigger")
	require.NoError(t, err)

	assert.Equal(t, types.ChainPartiallyCompleted, chain.Status)
	snap := chain.Snapshot()
	assert.Equal(t, types.StepFailed, snap.Steps[0].Status)
	assert.Equal(t, types.StepSucceeded, snap.Steps[1].Status)

	// 失败前驱贡献空上下文, b 回退到触发查询
	assert.Equal(t, "the trigger", gen.inputs["b"])
}

func TestOrchestrator_FanInWaitsForAllPredecessors(t *testing.T) {
	gen := newScriptedGenerator()
	o := newTestOrchestrator(gen, nil)

	def := ChainDefinition{
		WorkflowID:    "fan",
		FailurePolicy: types.AbortOnFailure,
		Steps: []StepDefinition{
			{AgentID: "left"},
			{AgentID: "right"},
			{AgentID: "join", DependsOn: []int{0, 1}},
		},
	}
	chain, err := o.Run(context.Background(), def, "q")
	require.NoError(t, err)

	assert.Equal(t, types.ChainCompleted, chain.Status)
	// join 最后执行
	assert.Equal(t, "join", gen.order[len(gen.order)-1])
	// 输入按声明顺序拼接, 与完成顺序无关
	assert.Equal(t, "out:left\n\nout:right", gen.inputs["join"])
}

func TestOrchestrator_RetriesRecoverableErrors(t *testing.T) {
	gen := newScriptedGenerator()
	gen.failures["a"] = 2 // 两次瞬时失败后成功
	o := newTestOrchestrator(gen, nil)

	chain, err := o.Run(context.Background(), linearChain(types.AbortOnFailure, "a"), "q")
	require.NoError(t, err)

	assert.Equal(t, types.ChainCompleted, chain.Status)
	assert.Equal(t, []string{"a", "a", "a"}, gen.order)
}

func TestOrchestrator_NonRetryableNotRetried(t *testing.T) {
	gen := newScriptedGenerator()
	gen.fail["a"] = types.NewError(types.ErrAgentGenerationFailure, "deterministic failure")
	o := newTestOrchestrator(gen, nil)

	chain, err := o.Run(context.Background(), linearChain(types.AbortOnFailure, "a"), "q")
	require.NoError(t, err)

	assert.Equal(t, types.ChainFailed, chain.Status)
	// AGENT_GENERATION_FAILURE 不重试
	assert.Equal(t, []string{"a"}, gen.order)
}

func TestOrchestrator_WriterFailureDoesNotFailStep(t *testing.T) {
	gen := newScriptedGenerator()
	writer := &recordingWriter{err: errors.New("store down")}
	o := newTestOrchestrator(gen, writer)

	chain, err := o.Run(context.Background(), linearChain(types.AbortOnFailure, "a"), "q")
	require.NoError(t, err)
	assert.Equal(t, types.ChainCompleted, chain.Status)
}

func TestOrchestrator_WriteBack(t *testing.T) {
	gen := newScriptedGenerator()
	writer := &recordingWriter{}
	o := newTestOrchestrator(gen, writer)

	_, err := o.Run(context.Background(), linearChain(types.AbortOnFailure, "a", "b"), "q")
	require.NoError(t, err)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, writer.writes)
}

func TestOrchestrator_Cancellation(t *testing.T) {
	gen := newScriptedGenerator()
	gen.block = true
	o := newTestOrchestrator(gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	chain, err := o.Run(ctx, linearChain(types.AbortOnFailure, "a", "b"), "q")
	require.NoError(t, err)

	assert.Equal(t, types.ChainFailed, chain.Status)
	snap := chain.Snapshot()
	// 运行中的步骤在挂起点被取消 → Failed; 未启动的步骤 → Skipped
	assert.Equal(t, types.StepFailed, snap.Steps[0].Status)
	assert.Equal(t, types.StepSkipped, snap.Steps[1].Status)
}

func TestOrchestrator_StartAndPoll(t *testing.T) {
	gen := newScriptedGenerator()
	o := newTestOrchestrator(gen, nil)

	chain, err := o.Start(context.Background(), linearChain(types.AbortOnFailure, "a"), "q")
	require.NoError(t, err)

	got, ok := o.GetChain(chain.ID)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return got.Snapshot().Status != types.ChainRunning
	}, 2*time.Second, 10*time.Millisecond)

	snap, ok := o.Collect(chain.ID)
	require.True(t, ok)
	assert.Equal(t, types.ChainCompleted, snap.Status)

	_, ok = o.GetChain(chain.ID)
	assert.False(t, ok)
}

func TestOrchestrator_UnknownAgentFailsFast(t *testing.T) {
	gen := newScriptedGenerator()
	o := NewOrchestrator(stubRetriever{}, gen, nil,
		&stubDirectory{missing: map[string]bool{"ghost": true}}, fastConfig(), nil, nil)

	_, err := o.Run(context.Background(), linearChain(types.AbortOnFailure, "a", "ghost"), "q")
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
	assert.Empty(t, gen.order)
}

func TestChainDefinition_Validate(t *testing.T) {
	cases := []struct {
		name string
		def  ChainDefinition
		ok   bool
	}{
		{"valid", linearChain(types.AbortOnFailure, "a", "b"), true},
		{"no steps", ChainDefinition{FailurePolicy: types.AbortOnFailure}, false},
		{"bad policy", ChainDefinition{FailurePolicy: "explode", Steps: []StepDefinition{{AgentID: "a"}}}, false},
		{"empty agent", ChainDefinition{FailurePolicy: types.AbortOnFailure, Steps: []StepDefinition{{AgentID: ""}}}, false},
		{"forward dependency", ChainDefinition{FailurePolicy: types.AbortOnFailure, Steps: []StepDefinition{
			{AgentID: "a", DependsOn: []int{0}},
		}}, false},
		{"negative dependency", ChainDefinition{FailurePolicy: types.AbortOnFailure, Steps: []StepDefinition{
			{AgentID: "a"}, {AgentID: "b", DependsOn: []int{-1}},
		}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
			}
		})
	}
}

func TestOrchestrator_ConcurrentChains(t *testing.T) {
	gen := newScriptedGenerator()
	o := newTestOrchestrator(gen, nil)

	var wg sync.WaitGroup
	results := make([]types.ChainStatus, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chain, err := o.Run(context.Background(),
				linearChain(types.AbortOnFailure, fmt.Sprintf("agent-%d", i)), "q")
			require.NoError(t, err)
			results[i] = chain.Status
		}(i)
	}
	wg.Wait()

	for _, status := range results {
		assert.Equal(t, types.ChainCompleted, status)
	}
}
