package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/memflow/memflow/agent"
	"github.com/memflow/memflow/internal/metrics"
	"github.com/memflow/memflow/memory"
	"github.com/memflow/memflow/retrieval"
	"github.com/memflow/memflow/types"
)

// DefaultStepTimeout bounds one step's retrieve+generate pipeline.
const DefaultStepTimeout = 60 * time.Second

// Retriever is the slice of the retrieval engine a step needs.
type Retriever interface {
	Retrieve(ctx context.Context, namespace, queryText string, opts memory.QueryOptions) (*retrieval.Result, error)
}

// Generator is the slice of the agent generator a step needs.
type Generator interface {
	Generate(ctx context.Context, cfg types.AgentConfig, query string, retrieved []types.ScoredRecord) (*agent.Response, error)
}

// InteractionWriter persists a step's (query, response) pair. Write failure
// never fails the step.
type InteractionWriter interface {
	WriteInteraction(ctx context.Context, namespace, query, response string) (string, error)
}

// AgentDirectory resolves agent ids to configurations.
type AgentDirectory interface {
	Get(id string) (types.AgentConfig, error)
}

// Config configures the orchestrator.
type Config struct {
	// StepTimeout bounds one step attempt. Defaults to DefaultStepTimeout.
	StepTimeout time.Duration

	// Retry is the per-step retry policy for recoverable errors.
	Retry RetryPolicy

	// Query is applied to every step's retrieval.
	Query memory.QueryOptions
}

// Orchestrator 工作流编排器. 链之间相互独立并发执行;
// 链内步骤按依赖边扇出/扇入, 步骤终态通过 done 通道传播.
type Orchestrator struct {
	retriever Retriever
	generator Generator
	writer    InteractionWriter
	agents    AgentDirectory
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *metrics.Collector

	chains sync.Map // chain id -> *Chain
}

// NewOrchestrator creates an orchestrator. writer and collector may be nil.
func NewOrchestrator(retriever Retriever, generator Generator, writer InteractionWriter, agents AgentDirectory, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		writer:    writer,
		agents:    agents,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "orchestrator")),
		tracer:    otel.Tracer("memflow/workflow"),
		metrics:   collector,
	}
}

// Run executes a chain synchronously and returns its terminal state. Step
// failures are expressed in step statuses, not in Run's error; Run errors
// only on an invalid definition or an unknown agent.
func (o *Orchestrator) Run(ctx context.Context, def ChainDefinition, triggerQuery string) (*Chain, error) {
	chain, err := o.prepare(def, triggerQuery)
	if err != nil {
		return nil, err
	}
	o.execute(ctx, chain)
	return chain, nil
}

// Start launches a chain in the background and returns immediately with the
// running chain. Progress is observable via GetChain.
func (o *Orchestrator) Start(ctx context.Context, def ChainDefinition, triggerQuery string) (*Chain, error) {
	chain, err := o.prepare(def, triggerQuery)
	if err != nil {
		return nil, err
	}
	go o.execute(ctx, chain)
	return chain, nil
}

// GetChain returns a chain by id. Terminal chains are retained until
// collected with Collect.
func (o *Orchestrator) GetChain(id string) (*Chain, bool) {
	v, ok := o.chains.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Chain), true
}

// Collect removes a terminal chain from the registry and returns its final
// snapshot. Running chains are not collectable.
func (o *Orchestrator) Collect(id string) (ChainSnapshot, bool) {
	v, ok := o.chains.Load(id)
	if !ok {
		return ChainSnapshot{}, false
	}
	chain := v.(*Chain)
	snap := chain.Snapshot()
	if snap.Status == types.ChainRunning {
		return ChainSnapshot{}, false
	}
	o.chains.Delete(id)
	return snap, true
}

// prepare validates the definition, resolves agents, and registers the
// pending chain.
func (o *Orchestrator) prepare(def ChainDefinition, triggerQuery string) (*Chain, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	// 提前解析所有代理: 未知代理让整条链在启动前失败
	for _, step := range def.Steps {
		if _, err := o.agents.Get(step.AgentID); err != nil {
			return nil, err
		}
	}

	chain := &Chain{
		ID:           uuid.NewString(),
		WorkflowID:   def.WorkflowID,
		Policy:       def.FailurePolicy,
		TriggerQuery: triggerQuery,
		Status:       types.ChainRunning,
		CreatedAt:    time.Now(),
		Steps:        make([]*Step, len(def.Steps)),
	}
	for i, sd := range def.Steps {
		chain.Steps[i] = &Step{
			Index:     i,
			AgentID:   sd.AgentID,
			DependsOn: append([]int(nil), sd.DependsOn...),
			Status:    types.StepPending,
		}
	}
	o.chains.Store(chain.ID, chain)
	return chain, nil
}

// execute drives all steps to terminal state and settles the chain status.
func (o *Orchestrator) execute(ctx context.Context, chain *Chain) {
	ctx, span := o.tracer.Start(ctx, "workflow.Execute",
		trace.WithAttributes(
			attribute.String("memflow.chain_id", chain.ID),
			attribute.String("memflow.workflow_id", chain.WorkflowID),
			attribute.Int("memflow.steps", len(chain.Steps)),
		))
	defer span.End()

	o.logger.Info("chain started",
		zap.String("chain_id", chain.ID),
		zap.String("workflow_id", chain.WorkflowID),
		zap.Int("steps", len(chain.Steps)),
		zap.String("policy", string(chain.Policy)),
	)

	n := len(chain.Steps)
	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer close(done[i])
			o.runStep(ctx, chain, i, done)
		}(i)
	}
	wg.Wait()

	o.settle(chain, ctx.Err() != nil)
	span.SetAttributes(attribute.String("memflow.chain_status", string(chain.Status)))
	o.metrics.RecordWorkflowChain(string(chain.Status))

	o.logger.Info("chain finished",
		zap.String("chain_id", chain.ID),
		zap.String("status", string(chain.Status)),
	)
}

// runStep waits for this step's predecessors and, depending on their
// outcome and the failure policy, either skips or executes the step.
func (o *Orchestrator) runStep(ctx context.Context, chain *Chain, i int, done []chan struct{}) {
	step := chain.Steps[i]

	// fan-in: 等待所有前驱终态
	for _, dep := range step.DependsOn {
		select {
		case <-done[dep]:
		case <-ctx.Done():
			o.markSkipped(chain, i, "cancelled before start")
			return
		}
	}
	if ctx.Err() != nil {
		o.markSkipped(chain, i, "cancelled before start")
		return
	}

	if chain.Policy == types.AbortOnFailure {
		for _, dep := range step.DependsOn {
			if st := chain.stepStatus(dep); st == types.StepFailed || st == types.StepSkipped {
				o.markSkipped(chain, i, "dependency failed")
				return
			}
		}
	}

	input := o.assembleInput(chain, step)

	chain.mu.Lock()
	now := time.Now()
	step.Status = types.StepRunning
	step.InputQuery = input
	step.StartedAt = &now
	chain.mu.Unlock()

	output, contextIn, err := o.invoke(ctx, chain, step, input)

	chain.mu.Lock()
	finished := time.Now()
	step.FinishedAt = &finished
	if err != nil {
		step.Status = types.StepFailed
		step.Error = classify(err)
	} else {
		step.Status = types.StepSucceeded
		step.Output = output
		step.ContextIn = contextIn
	}
	status := step.Status
	chain.mu.Unlock()

	o.metrics.RecordWorkflowStep(string(status), step.AgentID, finished.Sub(now))
	if err != nil {
		o.logger.Warn("step failed",
			zap.String("chain_id", chain.ID),
			zap.Int("step", i),
			zap.String("agent", step.AgentID),
			zap.Error(err),
		)
	}
}

// invoke runs the retrieve → generate → write-back pipeline for one step,
// retrying recoverable failures per the step retry policy.
func (o *Orchestrator) invoke(ctx context.Context, chain *Chain, step *Step, input string) (*StepOutput, []string, error) {
	cfg, err := o.agents.Get(step.AgentID)
	if err != nil {
		return nil, nil, err
	}
	namespace := cfg.MemoryNamespace()
	logger := o.logger.With(
		zap.String("chain_id", chain.ID),
		zap.Int("step", step.Index),
		zap.String("agent", step.AgentID),
	)

	var output *StepOutput
	var contextIn []string

	attempt := func() error {
		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		defer cancel()

		result, err := o.retriever.Retrieve(stepCtx, namespace, input, o.cfg.Query)
		if err != nil {
			return err
		}

		resp, err := o.generator.Generate(stepCtx, cfg, input, result.Records)
		if err != nil {
			return err
		}

		output = &StepOutput{
			Text:       resp.Text,
			Confidence: resp.Confidence,
			Degraded:   result.Degraded,
		}
		contextIn = result.MemoryIDs()

		if o.writer != nil {
			// 回写尽力而为, 失败只记日志, 不影响步骤结果
			if _, werr := o.writer.WriteInteraction(stepCtx, namespace, input, resp.Text); werr != nil {
				logger.Warn("interaction write-back failed", zap.Error(werr))
			}
		}
		return nil
	}

	if err := retryStep(ctx, o.cfg.Retry, logger, attempt); err != nil {
		return nil, nil, types.NewError(types.ErrWorkflowStepFailure, "step pipeline failed").WithCause(err)
	}
	return output, contextIn, nil
}

// assembleInput builds the step input deterministically: succeeded
// predecessor outputs concatenated in declared order; failed predecessors
// contribute nothing. With no usable predecessor output the trigger query
// is the input.
func (o *Orchestrator) assembleInput(chain *Chain, step *Step) string {
	var parts []string
	for _, dep := range step.DependsOn {
		if out, ok := chain.stepOutput(dep); ok && out != "" {
			parts = append(parts, out)
		}
	}
	if len(parts) == 0 {
		return chain.TriggerQuery
	}
	return strings.Join(parts, "\n\n")
}

func (o *Orchestrator) markSkipped(chain *Chain, i int, reason string) {
	chain.mu.Lock()
	chain.Steps[i].Status = types.StepSkipped
	chain.mu.Unlock()

	o.metrics.RecordWorkflowStep(string(types.StepSkipped), chain.Steps[i].AgentID, 0)
	o.logger.Debug("step skipped",
		zap.String("chain_id", chain.ID),
		zap.Int("step", i),
		zap.String("reason", reason),
	)
}

// classify maps a step failure to its error classification. The wrapping
// WORKFLOW_STEP_FAILURE is unwrapped so callers see the root cause.
func classify(err error) string {
	var appErr *types.Error
	if errors.As(err, &appErr) {
		if appErr.Code == types.ErrWorkflowStepFailure && appErr.Cause != nil {
			if code := types.GetErrorCode(appErr.Cause); code != "" {
				return string(code)
			}
		}
		return string(appErr.Code)
	}
	return string(types.ErrWorkflowStepFailure)
}

// settle computes the chain's terminal status from step outcomes.
func (o *Orchestrator) settle(chain *Chain, cancelled bool) {
	chain.mu.Lock()
	defer chain.mu.Unlock()

	allSucceeded := true
	anyFailed := false
	for _, s := range chain.Steps {
		if s.Status != types.StepSucceeded {
			allSucceeded = false
		}
		if s.Status == types.StepFailed {
			anyFailed = true
		}
	}

	switch {
	case allSucceeded:
		chain.Status = types.ChainCompleted
	case cancelled:
		chain.Status = types.ChainFailed
	case chain.Policy == types.ContinueWithDegradedContext:
		if anyFailed {
			chain.Status = types.ChainPartiallyCompleted
		} else {
			chain.Status = types.ChainCompleted
		}
	default:
		chain.Status = types.ChainFailed
	}

	now := time.Now()
	chain.FinishedAt = &now
}
