package agent

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/memflow/memflow/types"
)

// Registry 持有已加载的代理配置. 加载后只读, 可在并发工作流间安全共享.
type Registry struct {
	agents map[string]types.AgentConfig
	logger *zap.Logger
}

// NewRegistry builds a registry from the configured agents. Agent IDs must
// be unique and non-empty; configurations are copied and never mutated
// after construction.
func NewRegistry(configs []types.AgentConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	agents := make(map[string]types.AgentConfig, len(configs))
	for _, cfg := range configs {
		if cfg.ID == "" {
			return nil, fmt.Errorf("agent config with empty id")
		}
		if _, exists := agents[cfg.ID]; exists {
			return nil, fmt.Errorf("duplicate agent id: %s", cfg.ID)
		}
		if cfg.Style == "" {
			cfg.Style = types.StyleAnalytical
		}
		agents[cfg.ID] = cfg
	}

	logger.Info("agent registry loaded", zap.Int("agents", len(agents)))
	return &Registry{agents: agents, logger: logger}, nil
}

// Get returns the configuration for the given agent id.
func (r *Registry) Get(id string) (types.AgentConfig, error) {
	cfg, ok := r.agents[id]
	if !ok {
		return types.AgentConfig{}, types.NewError(types.ErrAgentNotFound,
			fmt.Sprintf("unknown agent: %s", id)).WithHTTPStatus(404)
	}
	return cfg, nil
}

// Has reports whether an agent with the given id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.agents[id]
	return ok
}

// List returns all agent configurations sorted by id.
func (r *Registry) List() []types.AgentConfig {
	out := make([]types.AgentConfig, 0, len(r.agents))
	for _, cfg := range r.agents {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
