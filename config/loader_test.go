package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memflow/memflow/types"
)

func mkAgent(id string) types.AgentConfig {
	return types.AgentConfig{ID: id, Name: "Agent " + id}
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "template", cfg.Generation.Provider)
	assert.Equal(t, 256, cfg.Embedding.Dimensions)
	assert.Equal(t, 10, cfg.Workflow.TopK)
	assert.InDelta(t, 0.75, cfg.Workflow.Threshold, 1e-9)
}

func TestLoader_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9000
store:
  backend: redis
workflow:
  top_k: 5
  step_timeout: 20s
agents:
  - id: strategist
    name: Strategist
    expertise: [planning, markets]
    style: analytical
  - id: summarizer
    name: Summarizer
    style: concise
    namespace: shared-notes
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 5, cfg.Workflow.TopK)
	assert.Equal(t, 20*time.Second, cfg.Workflow.StepTimeout)

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "strategist", cfg.Agents[0].ID)
	assert.Equal(t, []string{"planning", "markets"}, cfg.Agents[0].Expertise)
	assert.Equal(t, "shared-notes", cfg.Agents[1].Namespace)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("MEMFLOW_SERVER_HTTP_PORT", "7070")
	t.Setenv("MEMFLOW_STORE_BACKEND", "gorm")
	t.Setenv("MEMFLOW_WORKFLOW_STEP_TIMEOUT", "45s")
	t.Setenv("MEMFLOW_TELEMETRY_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, "gorm", cfg.Store.Backend)
	assert.Equal(t, 45*time.Second, cfg.Workflow.StepTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults valid", func(c *Config) {}, true},
		{"bad port", func(c *Config) { c.Server.HTTPPort = -1 }, false},
		{"bad backend", func(c *Config) { c.Store.Backend = "chalkboard" }, false},
		{"bad generation provider", func(c *Config) { c.Generation.Provider = "oracle" }, false},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }, false},
		{"threshold out of range", func(c *Config) { c.Workflow.Threshold = 1.5 }, false},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }, false},
		{"duplicate agents", func(c *Config) {
			c.Agents = append(c.Agents,
				mkAgent("a"), mkAgent("a"))
		}, false},
		{"agent without id", func(c *Config) {
			c.Agents = append(c.Agents, mkAgent(""))
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "memflow", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=memflow sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "memflow"}
	assert.Equal(t, "u:p@tcp(db:3306)/memflow?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "/tmp/memflow.db"}
	assert.Equal(t, "/tmp/memflow.db", lite.DSN())

	other := DatabaseConfig{Driver: "oracle"}
	assert.Empty(t, other.DSN())
}
