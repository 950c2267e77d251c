package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/memflow/memflow/types"
)

// BaseProvider 为 HTTP 嵌入提供者提供了共同的功能:
// 超时控制, 出站限速, 请求编解码与错误映射.
type BaseProvider struct {
	name       string
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// BaseConfig 持有基础提供者的共同配置.
type BaseConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration

	// RequestsPerSecond 限制出站请求速率, 0 表示不限速.
	RequestsPerSecond float64
}

// NewBaseProvider 创建一个新的基础提供者.
func NewBaseProvider(cfg BaseConfig) *BaseProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &BaseProvider{
		name:       cfg.Name,
		client:     &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    limiter,
	}
}

func (p *BaseProvider) Name() string    { return p.name }
func (p *BaseProvider) Dimensions() int { return p.dimensions }
func (p *BaseProvider) Model() string   { return p.model }

// DoRequest 执行 HTTP 请求, 并进行常见错误处理.
func (p *BaseProvider) DoRequest(ctx context.Context, method, endpoint string, body any, headers map[string]string) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, types.NewError(types.ErrEmbeddingFailure, "rate limiter wait aborted").
				WithCause(err).WithRetryable(true)
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrEmbeddingFailure, "embedding provider unreachable").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// mapHTTPError 映射 HTTP 状态到 types.Error.
func mapHTTPError(status int, msg string) *types.Error {
	// 客户端错误不可重试, 服务端错误与限流可重试
	retryable := status >= 500 || status == http.StatusTooManyRequests
	return types.NewError(types.ErrEmbeddingFailure, msg).
		WithHTTPStatus(status).
		WithRetryable(retryable)
}

// ChooseModel 从请求或默认中选择模型.
func ChooseModel(reqModel, defaultModel, fallback string) string {
	if reqModel != "" {
		return reqModel
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallback
}
