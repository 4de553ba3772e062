package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireo-ai/vireo/pkg/config/provider"
	"github.com/vireo-ai/vireo/pkg/logger"
	"github.com/vireo-ai/vireo/pkg/memory"
)

const graphYAML = `
name: demo
logging:
  level: debug
agent:
  type: graph
  graph:
    inputTimeout: 30s
    nodes:
      - id: planner
        name: Planner
        llm:
          provider: openai
          model: gpt-4o
        reactConfig:
          enabled: true
          maxSteps: 4
      - id: writer
        name: Writer
        llm:
          provider: openai
          model: gpt-4o-mini
        reactConfig:
          enabled: false
    edges:
      - id: e1
        from: planner
        to: writer
        condition:
          type: keyword
          keyword: ready
`

func loadFrom(t *testing.T, doc string) (*Config, error) {
	t.Helper()
	l := NewLoader(&provider.BytesProvider{Data: []byte(doc)})
	return l.Load(context.Background())
}

func TestLoad_GraphConfig(t *testing.T) {
	cfg, err := loadFrom(t, graphYAML)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Name)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, AgentGraph, cfg.Agent.Type)
	assert.Equal(t, 30*time.Second, cfg.Agent.Graph.InputTimeout)

	require.Len(t, cfg.Agent.Graph.Nodes, 2)
	planner := cfg.Agent.Graph.Nodes[0]
	assert.Equal(t, "openai", planner.LLM.Provider)
	assert.Equal(t, 4, planner.React.MaxSteps)

	require.Len(t, cfg.Agent.Graph.Edges, 1)
	assert.Equal(t, "ready", cfg.Agent.Graph.Edges[0].Condition.Keyword)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadFrom(t, `
agent:
  type: react
  llm:
    provider: openai
    model: gpt-4o
`)
	require.NoError(t, err)

	assert.Equal(t, "vireo", cfg.Name)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, logger.FormatSimple, cfg.Logging.Format)
	assert.Equal(t, memory.StrategyBufferWindow, cfg.Memory.Strategy)
}

func TestLoad_TypeInferredFromGraphNodes(t *testing.T) {
	cfg, err := loadFrom(t, `
agent:
  graph:
    nodes:
      - id: only
        name: Only
        llm:
          provider: openai
          model: gpt-4o
`)
	require.NoError(t, err)
	assert.Equal(t, AgentGraph, cfg.Agent.Type)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("VIREO_TEST_MODEL", "gpt-4o")

	cfg, err := loadFrom(t, `
agent:
  type: react
  llm:
    provider: openai
    model: ${VIREO_TEST_MODEL}
`)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Agent.LLM.Model)
}

func TestLoad_EnvDefaultValue(t *testing.T) {
	cfg, err := loadFrom(t, `
agent:
  type: react
  llm:
    provider: ${VIREO_UNSET_PROVIDER:-openai}
    model: gpt-4o
`)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Agent.LLM.Provider)
}

func TestLoad_ValidationFailures(t *testing.T) {
	_, err := loadFrom(t, `
agent:
  type: react
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")

	_, err = loadFrom(t, `
agent:
  type: graph
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one node")

	_, err = loadFrom(t, `
agent:
  type: banana
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestLoad_MalformedDocument(t *testing.T) {
	_, err := loadFrom(t, "agent: [不]: nope: {")
	require.Error(t, err)
}

func TestFileProviderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(graphYAML), 0o644))

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)
	defer p.Close()

	l := NewLoader(p)
	cfg, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Name)
}

func TestFileProviderWatchSignalsChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(graphYAML), 0o644))

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := p.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(graphYAML+"\n# touched\n"), 0o644))

	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("no change signal after file write")
	}
}

func TestLoadDotEnv_MissingFileIsFine(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func TestLoadDotEnv_SetsVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("VIREO_DOTENV_KEY=from-dotenv\n"), 0o644))

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("VIREO_DOTENV_KEY") })
	assert.Equal(t, "from-dotenv", os.Getenv("VIREO_DOTENV_KEY"))
}
