package api

import (
	"time"

	"github.com/memflow/memflow/types"
	"github.com/memflow/memflow/workflow"
)

// QueryRequest 单代理查询请求.
type QueryRequest struct {
	AgentID           string `json:"agentId"`
	Query             string `json:"query"`
	NamespaceOverride string `json:"namespaceOverride,omitempty"`
}

// QueryResponse 单代理查询响应.
type QueryResponse struct {
	ResponseText       string    `json:"responseText"`
	Confidence         float64   `json:"confidence"`
	RetrievedMemoryIDs []string  `json:"retrievedMemoryIds"`
	Degraded           bool      `json:"degraded"`
	Timestamp          time.Time `json:"timestamp"`
}

// WorkflowStepInput 工作流步骤声明.
type WorkflowStepInput struct {
	AgentID   string `json:"agentId"`
	DependsOn []int  `json:"dependsOn,omitempty"`
}

// WorkflowRequest 工作流触发请求.
type WorkflowRequest struct {
	WorkflowID    string              `json:"workflowId"`
	Steps         []WorkflowStepInput `json:"steps"`
	FailurePolicy string              `json:"failurePolicy"`
	TriggerQuery  string              `json:"triggerQuery"`
	// Async 为 true 时立即返回 Running 状态的链, 结果通过 GET 轮询.
	Async bool `json:"async,omitempty"`
}

// WorkflowResponse 工作流响应: 链快照.
type WorkflowResponse = workflow.ChainSnapshot

// ParseFailurePolicy accepts both the wire names (AbortOnFailure,
// ContinueWithDegradedContext) and the internal snake_case values.
func ParseFailurePolicy(s string) (types.FailurePolicy, bool) {
	switch s {
	case "AbortOnFailure", string(types.AbortOnFailure):
		return types.AbortOnFailure, true
	case "ContinueWithDegradedContext", string(types.ContinueWithDegradedContext):
		return types.ContinueWithDegradedContext, true
	default:
		return "", false
	}
}

// Definition converts the request into an orchestrator chain definition.
func (r WorkflowRequest) Definition() (workflow.ChainDefinition, error) {
	policy, ok := ParseFailurePolicy(r.FailurePolicy)
	if !ok {
		return workflow.ChainDefinition{}, types.NewError(types.ErrInvalidRequest,
			"failurePolicy must be AbortOnFailure or ContinueWithDegradedContext")
	}
	def := workflow.ChainDefinition{
		WorkflowID:    r.WorkflowID,
		FailurePolicy: policy,
	}
	for _, s := range r.Steps {
		def.Steps = append(def.Steps, workflow.StepDefinition{
			AgentID:   s.AgentID,
			DependsOn: s.DependsOn,
		})
	}
	return def, nil
}
