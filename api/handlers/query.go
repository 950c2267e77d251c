package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memflow/memflow/api"
	"github.com/memflow/memflow/memory"
	"github.com/memflow/memflow/types"
	"github.com/memflow/memflow/workflow"
)

// =============================================================================
// 🤖 单代理查询处理器
// =============================================================================

// QueryHandler 处理单代理查询: 检索记忆 → 生成响应 → 回写交互.
type QueryHandler struct {
	agents    workflow.AgentDirectory
	retriever workflow.Retriever
	generator workflow.Generator
	writer    workflow.InteractionWriter
	queryOpts memory.QueryOptions
	logger    *zap.Logger
}

// NewQueryHandler creates the query handler. writer may be nil, in which
// case interactions are not persisted.
func NewQueryHandler(agents workflow.AgentDirectory, retriever workflow.Retriever, generator workflow.Generator, writer workflow.InteractionWriter, queryOpts memory.QueryOptions, logger *zap.Logger) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryHandler{
		agents:    agents,
		retriever: retriever,
		generator: generator,
		writer:    writer,
		queryOpts: queryOpts,
		logger:    logger.With(zap.String("component", "query_handler")),
	}
}

// Handle 处理 POST /v1/query
func (h *QueryHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	var req api.QueryRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "agentId is required"), h.logger)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "query is required"), h.logger)
		return
	}

	cfg, err := h.agents.Get(req.AgentID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	namespace := cfg.MemoryNamespace()
	if req.NamespaceOverride != "" {
		namespace = req.NamespaceOverride
	}

	result, err := h.retriever.Retrieve(r.Context(), namespace, req.Query, h.queryOpts)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	resp, err := h.generator.Generate(r.Context(), cfg, req.Query, result.Records)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// 回写失败不影响本次响应
	if h.writer != nil {
		if _, err := h.writer.WriteInteraction(context.WithoutCancel(r.Context()), namespace, req.Query, resp.Text); err != nil {
			h.logger.Warn("interaction write failed",
				zap.String("agent_id", cfg.ID),
				zap.String("namespace", namespace),
				zap.Error(err),
			)
		}
	}

	h.logger.Info("query handled",
		zap.String("agent_id", cfg.ID),
		zap.String("namespace", namespace),
		zap.Int("hits", len(result.Records)),
		zap.Bool("degraded", result.Degraded),
		zap.Float64("confidence", resp.Confidence),
	)

	WriteSuccess(w, api.QueryResponse{
		ResponseText:       resp.Text,
		Confidence:         resp.Confidence,
		RetrievedMemoryIDs: result.MemoryIDs(),
		Degraded:           result.Degraded,
		Timestamp:          time.Now().UTC(),
	})
}
