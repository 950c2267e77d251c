package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/memflow/memflow/types"
)

// chainShape 描述随机生成的链: 每步的依赖集与失败集.
type chainShape struct {
	deps    [][]int
	failing map[int]bool
}

// genChainShape generates random DAG chains of up to 6 steps. Dependencies
// only reference earlier indices, matching ChainDefinition.Validate.
func genChainShape() gopter.Gen {
	return gen.IntRange(1, 6).FlatMap(func(v interface{}) gopter.Gen {
		n := v.(int)
		return gen.SliceOfN(n, gen.UInt32()).FlatMap(func(depsSeed interface{}) gopter.Gen {
			seeds := depsSeed.([]uint32)
			return gen.SliceOfN(n, gen.Bool()).Map(func(fails []bool) chainShape {
				shape := chainShape{deps: make([][]int, n), failing: make(map[int]bool)}
				for i := 1; i < n; i++ {
					// 种子位图选择步骤 i 的前驱子集
					for j := 0; j < i; j++ {
						if seeds[i]&(1<<uint(j)) != 0 {
							shape.deps[i] = append(shape.deps[i], j)
						}
					}
				}
				for i, f := range fails {
					if f {
						shape.failing[i] = true
					}
				}
				return shape
			})
		}, nil)
	}, nil)
}

func (s chainShape) definition(policy types.FailurePolicy) ChainDefinition {
	def := ChainDefinition{WorkflowID: "prop", FailurePolicy: policy}
	for i, deps := range s.deps {
		def.Steps = append(def.Steps, StepDefinition{
			AgentID:   fmt.Sprintf("agent-%d", i),
			DependsOn: deps,
		})
	}
	return def
}

func (s chainShape) orchestrator() *Orchestrator {
	gen := newScriptedGenerator()
	for i := range s.failing {
		gen.fail[fmt.Sprintf("agent-%d", i)] = types.NewError(types.ErrAgentGenerationFailure, "scripted failure")
	}
	cfg := Config{
		StepTimeout: 2 * time.Second,
		Retry:       RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
	return NewOrchestrator(stubRetriever{}, gen, nil, &stubDirectory{}, cfg, nil, nil)
}

func TestProperty_DependencyOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60

	properties := gopter.NewProperties(parameters)

	properties.Property("a step never starts before all its predecessors finished", prop.ForAll(
		func(shape chainShape) bool {
			shape.failing = map[int]bool{} // 纯排序性质, 无失败
			o := shape.orchestrator()

			chain, err := o.Run(context.Background(), shape.definition(types.AbortOnFailure), "q")
			if err != nil {
				t.Logf("Run failed: %v", err)
				return false
			}
			snap := chain.Snapshot()
			if snap.Status != types.ChainCompleted {
				t.Logf("expected completed chain, got %s", snap.Status)
				return false
			}

			for _, step := range snap.Steps {
				for _, dep := range step.DependsOn {
					pred := snap.Steps[dep]
					if pred.FinishedAt == nil || step.StartedAt == nil {
						t.Logf("missing timestamps on step %d / pred %d", step.Index, dep)
						return false
					}
					if step.StartedAt.Before(*pred.FinishedAt) {
						t.Logf("step %d started before predecessor %d finished", step.Index, dep)
						return false
					}
				}
			}
			return true
		},
		genChainShape(),
	))

	properties.TestingRun(t)
}

func TestProperty_AbortOnFailurePropagation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60

	properties := gopter.NewProperties(parameters)

	properties.Property("failures cascade to dependents as Skipped and fail the chain", prop.ForAll(
		func(shape chainShape) bool {
			o := shape.orchestrator()

			chain, err := o.Run(context.Background(), shape.definition(types.AbortOnFailure), "q")
			if err != nil {
				t.Logf("Run failed: %v", err)
				return false
			}
			snap := chain.Snapshot()

			anyFailedOrSkipped := false
			for _, step := range snap.Steps {
				// 传递闭包: 任一前驱 Failed/Skipped ⇒ 本步骤 Skipped
				depBroken := false
				for _, dep := range step.DependsOn {
					if st := snap.Steps[dep].Status; st == types.StepFailed || st == types.StepSkipped {
						depBroken = true
					}
				}
				switch {
				case depBroken && step.Status != types.StepSkipped:
					t.Logf("step %d should be skipped, got %s", step.Index, step.Status)
					return false
				case !depBroken && shape.failing[step.Index] && step.Status != types.StepFailed:
					t.Logf("step %d should be failed, got %s", step.Index, step.Status)
					return false
				case !depBroken && !shape.failing[step.Index] && step.Status != types.StepSucceeded:
					t.Logf("step %d should be succeeded, got %s", step.Index, step.Status)
					return false
				}
				if step.Status == types.StepFailed && step.Error == "" {
					t.Logf("failed step %d has empty error classification", step.Index)
					return false
				}
				if step.Status != types.StepSucceeded {
					anyFailedOrSkipped = true
				}
			}

			if anyFailedOrSkipped {
				return snap.Status == types.ChainFailed
			}
			return snap.Status == types.ChainCompleted
		},
		genChainShape(),
	))

	properties.TestingRun(t)
}

func TestProperty_ContinuePolicyRunsEverything(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60

	properties := gopter.NewProperties(parameters)

	properties.Property("degraded-context policy never skips and settles the chain correctly", prop.ForAll(
		func(shape chainShape) bool {
			o := shape.orchestrator()

			chain, err := o.Run(context.Background(), shape.definition(types.ContinueWithDegradedContext), "q")
			if err != nil {
				t.Logf("Run failed: %v", err)
				return false
			}
			snap := chain.Snapshot()

			anyFailed := false
			for _, step := range snap.Steps {
				if step.Status == types.StepSkipped {
					t.Logf("step %d skipped under continue policy", step.Index)
					return false
				}
				want := types.StepSucceeded
				if shape.failing[step.Index] {
					want = types.StepFailed
					anyFailed = true
				}
				if step.Status != want {
					t.Logf("step %d: want %s got %s", step.Index, want, step.Status)
					return false
				}
			}

			if anyFailed {
				return snap.Status == types.ChainPartiallyCompleted
			}
			return snap.Status == types.ChainCompleted
		},
		genChainShape(),
	))

	properties.TestingRun(t)
}
