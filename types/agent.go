package types

// ResponseStyle selects the rendering policy for an agent's responses.
// It is pure configuration data; all agents dispatch through the same
// generation path regardless of style.
type ResponseStyle string

const (
	// StyleAnalytical produces structured, evidence-first responses.
	StyleAnalytical ResponseStyle = "analytical"
	// StyleConcise produces short direct responses.
	StyleConcise ResponseStyle = "concise"
	// StyleNarrative produces flowing prose responses.
	StyleNarrative ResponseStyle = "narrative"
)

// AgentConfig describes one agent persona as plain data. Different agents are
// different values of this type; there is no per-agent subtype or dispatch
// chain. Configurations are immutable once loaded and safe to share across
// concurrent workflow executions.
type AgentConfig struct {
	// ID is the unique agent identifier, also used as the default memory
	// namespace for the agent.
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable agent name.
	Name string `json:"name" yaml:"name"`

	// Persona is free-form persona/voice text prepended to prompts.
	Persona string `json:"persona" yaml:"persona"`

	// Expertise lists the agent's expertise tags.
	Expertise []string `json:"expertise" yaml:"expertise"`

	// Style selects the response rendering policy.
	Style ResponseStyle `json:"style" yaml:"style"`

	// Namespace overrides the memory namespace. Empty means use ID.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// MemoryNamespace returns the namespace this agent reads and writes.
func (c AgentConfig) MemoryNamespace() string {
	if c.Namespace != "" {
		return c.Namespace
	}
	return c.ID
}
