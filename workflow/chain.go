package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/memflow/memflow/types"
)

// StepDefinition declares one agent invocation in a chain definition.
type StepDefinition struct {
	// AgentID names the agent configuration that executes this step.
	AgentID string `json:"agent_id" yaml:"agent_id"`

	// DependsOn lists indices of earlier steps whose outputs feed this
	// step. Indices must reference steps declared before this one.
	DependsOn []int `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// ChainDefinition declares a workflow: an ordered list of steps with
// dependency edges and a chain-level failure policy.
type ChainDefinition struct {
	WorkflowID    string              `json:"workflow_id" yaml:"workflow_id"`
	Steps         []StepDefinition    `json:"steps" yaml:"steps"`
	FailurePolicy types.FailurePolicy `json:"failure_policy" yaml:"failure_policy"`
}

// Validate checks structural soundness. Dependencies referencing only
// earlier indices keeps definitions acyclic by construction.
func (d ChainDefinition) Validate() error {
	if len(d.Steps) == 0 {
		return types.NewError(types.ErrValidation, "chain has no steps")
	}
	if !d.FailurePolicy.Valid() {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("unknown failure policy: %s", d.FailurePolicy))
	}
	for i, step := range d.Steps {
		if step.AgentID == "" {
			return types.NewError(types.ErrValidation,
				fmt.Sprintf("step %d has no agent id", i))
		}
		for _, dep := range step.DependsOn {
			if dep < 0 || dep >= i {
				return types.NewError(types.ErrValidation,
					fmt.Sprintf("step %d depends on invalid index %d", i, dep))
			}
		}
	}
	return nil
}

// StepOutput is the result of a succeeded step.
type StepOutput struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Degraded   bool    `json:"degraded"`
}

// Step is the runtime state of one step. Snapshot returns copies; the
// orchestrator owns all mutation.
type Step struct {
	Index      int              `json:"index"`
	AgentID    string           `json:"agent_id"`
	DependsOn  []int            `json:"depends_on,omitempty"`
	InputQuery string           `json:"input_query,omitempty"`
	ContextIn  []string         `json:"context_in,omitempty"`
	Output     *StepOutput      `json:"output,omitempty"`
	Status     types.StepStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// Chain is the runtime state of one workflow execution. It holds only
// memory record ids (ContextIn), never embedding copies.
type Chain struct {
	mu sync.RWMutex

	ID           string              `json:"id"`
	WorkflowID   string              `json:"workflow_id"`
	Policy       types.FailurePolicy `json:"failure_policy"`
	TriggerQuery string              `json:"trigger_query"`
	Status       types.ChainStatus   `json:"status"`
	Steps        []*Step             `json:"steps"`
	CreatedAt    time.Time           `json:"created_at"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

// ChainSnapshot is an immutable copy of chain state for API responses.
type ChainSnapshot struct {
	ID           string              `json:"chainId"`
	WorkflowID   string              `json:"workflowId"`
	Policy       types.FailurePolicy `json:"failurePolicy"`
	TriggerQuery string              `json:"triggerQuery"`
	Status       types.ChainStatus   `json:"status"`
	Steps        []Step              `json:"steps"`
	CreatedAt    time.Time           `json:"createdAt"`
	FinishedAt   *time.Time          `json:"finishedAt,omitempty"`
}

// Snapshot returns a deep copy safe to serialize while the chain runs.
func (c *Chain) Snapshot() ChainSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	steps := make([]Step, len(c.Steps))
	for i, s := range c.Steps {
		cp := *s
		cp.DependsOn = append([]int(nil), s.DependsOn...)
		cp.ContextIn = append([]string(nil), s.ContextIn...)
		if s.Output != nil {
			out := *s.Output
			cp.Output = &out
		}
		steps[i] = cp
	}
	return ChainSnapshot{
		ID:           c.ID,
		WorkflowID:   c.WorkflowID,
		Policy:       c.Policy,
		TriggerQuery: c.TriggerQuery,
		Status:       c.Status,
		Steps:        steps,
		CreatedAt:    c.CreatedAt,
		FinishedAt:   c.FinishedAt,
	}
}

// stepStatus reads one step's status under the chain lock.
func (c *Chain) stepStatus(i int) types.StepStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Steps[i].Status
}

// stepOutput returns the output text of a succeeded step, or "" otherwise.
func (c *Chain) stepOutput(i int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.Steps[i]
	if s.Status != types.StepSucceeded || s.Output == nil {
		return "", false
	}
	return s.Output.Text, true
}
