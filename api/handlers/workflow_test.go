package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memflow/memflow/api"
	"github.com/memflow/memflow/types"
	"github.com/memflow/memflow/workflow"
)

func newTestWorkflowHandler(t *testing.T) *WorkflowHandler {
	t.Helper()
	dir := &stubDirectory{agents: map[string]types.AgentConfig{
		"researcher": {ID: "researcher"},
		"critic":     {ID: "critic"},
	}}
	orch := workflow.NewOrchestrator(
		&stubRetriever{}, &stubGenerator{}, &recordingWriter{}, dir,
		workflow.Config{
			StepTimeout: 2 * time.Second,
			Retry:       workflow.RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
		},
		nil, zap.NewNop(),
	)
	return NewWorkflowHandler(orch, zap.NewNop())
}

func postWorkflow(t *testing.T, h *WorkflowHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/workflows", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) api.WorkflowResponse {
	t.Helper()
	var resp struct {
		Success bool                 `json:"success"`
		Data    api.WorkflowResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	return resp.Data
}

func TestWorkflowHandler_SyncRunsToCompletion(t *testing.T) {
	h := newTestWorkflowHandler(t)

	rec := postWorkflow(t, h, `{
		"workflowId": "research-review",
		"steps": [
			{"agentId": "researcher"},
			{"agentId": "critic", "dependsOn": [0]}
		],
		"failurePolicy": "AbortOnFailure",
		"triggerQuery": "evaluate the proposal"
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeSnapshot(t, rec)
	assert.Equal(t, "research-review", snap.WorkflowID)
	assert.Equal(t, types.ChainCompleted, snap.Status)
	require.Len(t, snap.Steps, 2)
	for _, step := range snap.Steps {
		assert.Equal(t, types.StepSucceeded, step.Status)
	}
	assert.NotEmpty(t, snap.ID)
	assert.NotNil(t, snap.FinishedAt)
}

func TestWorkflowHandler_AsyncReturnsAcceptedThenPollable(t *testing.T) {
	h := newTestWorkflowHandler(t)

	rec := postWorkflow(t, h, `{
		"workflowId": "async-run",
		"steps": [{"agentId": "researcher"}],
		"failurePolicy": "ContinueWithDegradedContext",
		"triggerQuery": "q",
		"async": true
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	snap := decodeSnapshot(t, rec)
	require.NotEmpty(t, snap.ID)

	// 轮询至终态
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/v1/workflows/"+snap.ID, nil)
		req.SetPathValue("id", snap.ID)
		poll := httptest.NewRecorder()
		h.Get(poll, req)
		if poll.Code != http.StatusOK {
			return false
		}
		var resp struct {
			Data api.WorkflowResponse `json:"data"`
		}
		if err := json.Unmarshal(poll.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Data.Status == types.ChainCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkflowHandler_GetUnknownChain(t *testing.T) {
	h := newTestWorkflowHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/workflows/no-such-chain", nil)
	req.SetPathValue("id", "no-such-chain")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrChainNotFound), resp.Error.Code)
}

func TestWorkflowHandler_RejectsInvalidDefinition(t *testing.T) {
	h := newTestWorkflowHandler(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{
			"unknown policy",
			`{"workflowId":"w","steps":[{"agentId":"researcher"}],"failurePolicy":"Explode","triggerQuery":"q"}`,
			http.StatusBadRequest,
		},
		{
			"missing trigger query",
			`{"workflowId":"w","steps":[{"agentId":"researcher"}],"failurePolicy":"AbortOnFailure"}`,
			http.StatusBadRequest,
		},
		{
			"forward dependency",
			`{"workflowId":"w","steps":[{"agentId":"researcher","dependsOn":[1]},{"agentId":"critic"}],"failurePolicy":"AbortOnFailure","triggerQuery":"q"}`,
			http.StatusBadRequest,
		},
		{
			"unknown agent",
			`{"workflowId":"w","steps":[{"agentId":"nobody"}],"failurePolicy":"AbortOnFailure","triggerQuery":"q"}`,
			http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postWorkflow(t, h, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestWorkflowHandler_SnakeCasePolicyAccepted(t *testing.T) {
	h := newTestWorkflowHandler(t)

	rec := postWorkflow(t, h, `{
		"workflowId": "w",
		"steps": [{"agentId": "researcher"}],
		"failurePolicy": "abort_on_failure",
		"triggerQuery": "q"
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}
