package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memflow/memflow/api"
	"github.com/memflow/memflow/types"
	"github.com/memflow/memflow/workflow"
)

// =============================================================================
// 🔗 工作流处理器
// =============================================================================

// WorkflowHandler 处理工作流链的触发与查询.
type WorkflowHandler struct {
	orch   *workflow.Orchestrator
	logger *zap.Logger
}

// NewWorkflowHandler creates the workflow handler.
func NewWorkflowHandler(orch *workflow.Orchestrator, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		orch:   orch,
		logger: logger.With(zap.String("component", "workflow_handler")),
	}
}

// Trigger 处理 POST /v1/workflows
//
// async=false 时同步执行到终态; async=true 时立即返回 Running 状态的
// 链快照, 调用方通过 GET /v1/workflows/{id} 轮询结果.
func (h *WorkflowHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req api.WorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.TriggerQuery) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "triggerQuery is required"), h.logger)
		return
	}

	def, err := req.Definition()
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	var chain *workflow.Chain
	if req.Async {
		// 链的生命周期独立于本次请求
		chain, err = h.orch.Start(context.WithoutCancel(r.Context()), def, req.TriggerQuery)
	} else {
		chain, err = h.orch.Run(r.Context(), def, req.TriggerQuery)
	}
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	snapshot := chain.Snapshot()
	h.logger.Info("workflow triggered",
		zap.String("chain_id", snapshot.ID),
		zap.String("workflow_id", snapshot.WorkflowID),
		zap.String("status", string(snapshot.Status)),
		zap.Int("steps", len(snapshot.Steps)),
		zap.Bool("async", req.Async),
	)

	status := http.StatusOK
	if req.Async {
		status = http.StatusAccepted
	}
	WriteJSON(w, status, Response{
		Success:   true,
		Data:      snapshot,
		Timestamp: time.Now(),
	})
}

// Get 处理 GET /v1/workflows/{id}
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "chain id is required"), h.logger)
		return
	}

	chain, ok := h.orch.GetChain(id)
	if !ok {
		WriteError(w, types.NewError(types.ErrChainNotFound, "chain not found: "+id).
			WithHTTPStatus(http.StatusNotFound), h.logger)
		return
	}
	WriteSuccess(w, chain.Snapshot())
}
