package agent

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

// HTTPProviderConfig configures the chat-completions backed provider.
type HTTPProviderConfig struct {
	BaseURL           string        `json:"base_url" yaml:"base_url"`
	APIKey            string        `json:"api_key" yaml:"api_key"`
	Model             string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout           time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RequestsPerSecond float64       `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
}

// HTTPProvider 通过 OpenAI 兼容的 chat/completions 接口生成回答.
type HTTPProvider struct {
	cfg     HTTPProviderConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPProvider creates a chat-completions generation provider.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}
}

func (p *HTTPProvider) Name() string { return "chat-" + p.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *HTTPProvider) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	body := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(prompt.Agent)},
			{Role: "user", Content: userPrompt(prompt)},
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", types.NewError(types.ErrAgentGenerationFailure, "generation provider unreachable").
			WithCause(err).WithHTTPStatus(http.StatusBadGateway)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", types.NewError(types.ErrAgentGenerationFailure,
			fmt.Sprintf("generation request failed: %s", strings.TrimSpace(string(respBody)))).
			WithHTTPStatus(resp.StatusCode)
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", types.NewError(types.ErrAgentGenerationFailure, "no choices in chat response")
	}
	return cr.Choices[0].Message.Content, nil
}

// systemPrompt 将代理 persona 渲染为 system 消息.
func systemPrompt(agent types.AgentConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", agent.Name)
	if agent.Persona != "" {
		fmt.Fprintf(&b, " %s", agent.Persona)
	}
	if len(agent.Expertise) > 0 {
		fmt.Fprintf(&b, " Your expertise: %s.", strings.Join(agent.Expertise, ", "))
	}
	switch agent.Style {
	case types.StyleConcise:
		b.WriteString(" Answer in at most two sentences.")
	case types.StyleNarrative:
		b.WriteString(" Answer in flowing prose.")
	default:
		b.WriteString(" Answer analytically, citing the provided context.")
	}
	return b.String()
}

func userPrompt(prompt Prompt) string {
	if len(prompt.Context) == 0 {
		return prompt.Query
	}
	var b strings.Builder
	b.WriteString("Relevant context:\n")
	for _, c := range prompt.Context {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(prompt.Query)
	return b.String()
}
