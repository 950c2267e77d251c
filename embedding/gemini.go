package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// GeminiProvider 使用 Google Gemini API 执行嵌入.
// 注: Gemini 使用不同的端点格式: /models/{model}:embedContent
type GeminiProvider struct {
	*BaseProvider
	cfg GeminiConfig
}

// GeminiConfig 配置 Gemini 嵌入提供者.
type GeminiConfig struct {
	APIKey            string        `json:"api_key" yaml:"api_key"`
	BaseURL           string        `json:"base_url" yaml:"base_url"`
	Model             string        `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions        int           `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Timeout           time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RequestsPerSecond float64       `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
}

// NewGeminiProvider 创建新的 Gemini 嵌入提供者.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}

	return &GeminiProvider{
		BaseProvider: NewBaseProvider(BaseConfig{
			Name:              "gemini-embedding",
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}),
		cfg: cfg,
	}
}

type geminiEmbedRequest struct {
	Content struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"content"`
	OutputDimensionality int `json:"outputDimensionality,omitempty"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

// Embed 为单条文本生成嵌入向量.
func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	var body geminiEmbedRequest
	body.Content.Parts = []struct {
		Text string `json:"text"`
	}{{Text: text}}
	body.OutputDimensionality = p.cfg.Dimensions

	endpoint := fmt.Sprintf("/models/%s:embedContent?key=%s", p.cfg.Model, p.cfg.APIKey)
	respBody, err := p.DoRequest(ctx, "POST", endpoint, body, nil)
	if err != nil {
		return nil, err
	}

	var gResp geminiEmbedResponse
	if err := json.Unmarshal(respBody, &gResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(gResp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return gResp.Embedding.Values, nil
}

// geminiBatchConcurrency bounds parallel embedContent calls per batch.
// 出站 RPS 仍由 BaseProvider 的限速器统一控制.
const geminiBatchConcurrency = 4

// EmbedBatch 并发逐条生成嵌入 (embedContent 端点单次只接受一条).
func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(geminiBatchConcurrency)
	for i, t := range texts {
		g.Go(func() error {
			v, err := p.Embed(ctx, t)
			if err != nil {
				return err
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
