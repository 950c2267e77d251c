package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/memflow/memflow/types"
)

// GenerationProvider is the pluggable text-generation capability behind the
// response generator. Implementations must be safe for concurrent use.
type GenerationProvider interface {
	// Generate produces response text for a fully assembled prompt.
	Generate(ctx context.Context, prompt Prompt) (string, error)

	// Name identifies the provider in logs and degraded annotations.
	Name() string
}

// Prompt is the assembled generation input. Context snippets are already
// token-budgeted and ordered by relevance.
type Prompt struct {
	Agent   types.AgentConfig
	Query   string
	Context []string
}

// TemplateProvider 确定性模板生成器: 不依赖外部服务,
// 按 persona 风格将查询与检索上下文拼装成回答.
type TemplateProvider struct{}

// NewTemplateProvider creates the deterministic template-based provider.
func NewTemplateProvider() *TemplateProvider {
	return &TemplateProvider{}
}

func (p *TemplateProvider) Name() string { return "template" }

func (p *TemplateProvider) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	agent := prompt.Agent

	switch agent.Style {
	case types.StyleConcise:
		if len(prompt.Context) == 0 {
			fmt.Fprintf(&b, "%s: no recorded context for %q.", agent.Name, prompt.Query)
			break
		}
		fmt.Fprintf(&b, "%s: %s", agent.Name, prompt.Context[0])
	case types.StyleNarrative:
		fmt.Fprintf(&b, "%s, drawing on experience in %s, considers the question %q. ",
			agent.Name, strings.Join(agent.Expertise, ", "), prompt.Query)
		for _, c := range prompt.Context {
			fmt.Fprintf(&b, "One thing that stands out: %s. ", c)
		}
		if len(prompt.Context) == 0 {
			b.WriteString("Nothing in memory bears directly on this, so the answer is offered from general principles.")
		}
	default: // analytical
		fmt.Fprintf(&b, "[%s] Analysis of %q:\n", agent.Name, prompt.Query)
		if len(prompt.Context) == 0 {
			b.WriteString("- no supporting context retrieved\n")
		}
		for i, c := range prompt.Context {
			fmt.Fprintf(&b, "- evidence %d: %s\n", i+1, c)
		}
		if agent.Persona != "" {
			fmt.Fprintf(&b, "Perspective: %s", agent.Persona)
		}
	}

	return b.String(), nil
}
