package agent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/memflow/memflow/types"
)

// DefaultMaxContextTokens bounds how much retrieved content goes into the
// generation prompt.
const DefaultMaxContextTokens = 2048

// minConfidence 无上下文时的置信度下限.
const minConfidence = 0.1

// Response is one generated agent response.
type Response struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
}

// GeneratorConfig configures the response generator.
type GeneratorConfig struct {
	// MaxContextTokens caps the token count of retrieved context included
	// in the prompt. Defaults to DefaultMaxContextTokens.
	MaxContextTokens int
}

// Generator 代理回答生成器: persona 提示词组装 → 生成提供者调用 → 置信度计算.
type Generator struct {
	provider  GenerationProvider
	tokenizer Tokenizer
	maxTokens int
	logger    *zap.Logger
}

// NewGenerator creates a response generator. tokenizer may be nil, in which
// case the default tiktoken-backed tokenizer is used.
func NewGenerator(provider GenerationProvider, tokenizer Tokenizer, cfg GeneratorConfig, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenizer == nil {
		tokenizer = NewDefaultTokenizer()
	}
	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	return &Generator{
		provider:  provider,
		tokenizer: tokenizer,
		maxTokens: maxTokens,
		logger:    logger.With(zap.String("component", "agent_generator")),
	}
}

// Generate produces a response for query given the agent configuration and
// retrieved context. Provider failure maps to AGENT_GENERATION_FAILURE,
// which is fatal for the calling step but recoverable at the workflow level.
func (g *Generator) Generate(ctx context.Context, cfg types.AgentConfig, query string, retrieved []types.ScoredRecord) (*Response, error) {
	start := time.Now()

	snippets := g.budgetedContext(retrieved)
	prompt := Prompt{Agent: cfg, Query: query, Context: snippets}

	text, err := g.provider.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		var appErr *types.Error
		if errors.As(err, &appErr) && appErr.Code == types.ErrAgentGenerationFailure {
			return nil, err
		}
		return nil, types.NewError(types.ErrAgentGenerationFailure, "generation provider failed").
			WithCause(err)
	}

	resp := &Response{
		Text:       text,
		Confidence: Confidence(retrieved),
		Provider:   g.provider.Name(),
	}

	g.logger.Debug("response generated",
		zap.String("agent", cfg.ID),
		zap.Int("context_snippets", len(snippets)),
		zap.Float64("confidence", resp.Confidence),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// budgetedContext 按排名顺序收集检索内容, 直到 token 预算耗尽为止.
func (g *Generator) budgetedContext(retrieved []types.ScoredRecord) []string {
	var snippets []string
	used := 0
	for _, rec := range retrieved {
		n, err := g.tokenizer.CountTokens(rec.Record.Content)
		if err != nil {
			// 计数失败时保守地按 1 token / 4 字符估算
			n = len(rec.Record.Content)/4 + 1
		}
		if used+n > g.maxTokens && len(snippets) > 0 {
			break
		}
		snippets = append(snippets, rec.Record.Content)
		used += n
	}
	return snippets
}

// Confidence computes a similarity-weighted confidence in [0,1]. Higher
// similarity results dominate: the score is sum(s²)/sum(s), so a single
// strong match is not dragged down by weak tail results. Empty retrieval
// yields the minimum floor rather than zero.
func Confidence(retrieved []types.ScoredRecord) float64 {
	var num, den float64
	for _, r := range retrieved {
		s := r.Similarity
		if s <= 0 {
			continue
		}
		num += s * s
		den += s
	}
	if den == 0 {
		return minConfidence
	}
	c := num / den
	if c < minConfidence {
		c = minConfidence
	}
	if c > 1 {
		c = 1
	}
	return c
}
