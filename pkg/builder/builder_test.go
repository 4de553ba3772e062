package builder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireo-ai/vireo/pkg/config"
	"github.com/vireo-ai/vireo/pkg/graph"
	"github.com/vireo-ai/vireo/pkg/llms"
	"github.com/vireo-ai/vireo/pkg/memory"
	"github.com/vireo-ai/vireo/pkg/react"
	"github.com/vireo-ai/vireo/pkg/testutils"
)

func graphConfig() *config.Config {
	cfg := &config.Config{
		Agent: config.AgentConfig{
			Type: config.AgentGraph,
			Graph: config.GraphConfig{
				Nodes: []graph.Node{
					{
						ID:    "a",
						Name:  "a",
						LLM:   llms.Ref{Provider: "scripted", Model: "m"},
						React: react.Config{Enabled: true},
					},
				},
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func reactConfig() *config.Config {
	cfg := &config.Config{
		Agent: config.AgentConfig{
			Type: config.AgentReact,
			LLM:  llms.Ref{Provider: "scripted", Model: "m"},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestBuild_GraphAgent(t *testing.T) {
	p := testutils.NewScriptedProvider("Final Answer: from graph")

	agent, err := New(graphConfig(), WithProvider(p)).Build()
	require.NoError(t, err)
	require.IsType(t, &graph.Agent{}, agent)

	out, err := agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "from graph", out)
}

func TestBuild_ReactAgentRecordsMemory(t *testing.T) {
	p := testutils.NewScriptedProvider(
		"Final Answer: first",
		"Final Answer: second",
	)

	agent, err := New(reactConfig(), WithProvider(p)).Build()
	require.NoError(t, err)

	out, err := agent.Invoke(context.Background(), "question one")
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	_, err = agent.Invoke(context.Background(), "question two")
	require.NoError(t, err)

	// The second prompt carries the remembered first exchange.
	require.Len(t, p.Prompts, 2)
	assert.Contains(t, p.Prompts[1], "question one")
	assert.Contains(t, p.Prompts[1], "first")
}

func TestBuild_ReactAgentWithMemoryDisabled(t *testing.T) {
	cfg := reactConfig()
	cfg.Memory.Strategy = memory.StrategyNone
	p := testutils.NewScriptedProvider("Final Answer: one", "Final Answer: two")

	agent, err := New(cfg, WithProvider(p)).Build()
	require.NoError(t, err)

	_, err = agent.Invoke(context.Background(), "q1")
	require.NoError(t, err)
	_, err = agent.Invoke(context.Background(), "q2")
	require.NoError(t, err)

	assert.NotContains(t, p.Prompts[1], "q1")
}

func TestBuild_UnknownProviderRef(t *testing.T) {
	cfg := graphConfig()
	cfg.Agent.Graph.Nodes[0].LLM.Provider = "missing"

	_, err := New(cfg, WithProvider(testutils.NewScriptedProvider())).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestBuild_UnknownAnalysisProviderRef(t *testing.T) {
	cfg := graphConfig()
	cfg.Agent.Graph.Nodes = append(cfg.Agent.Graph.Nodes, graph.Node{
		ID:    "b",
		Name:  "b",
		LLM:   llms.Ref{Provider: "scripted", Model: "m"},
		React: react.Config{Enabled: true},
	})
	cfg.Agent.Graph.Edges = []graph.Edge{{
		ID:   "e1",
		From: "a",
		To:   "b",
		Condition: &graph.Condition{
			Type:             graph.ConditionAnalysis,
			Prompt:           "ok?",
			AnalysisProvider: llms.Ref{Provider: "nope", Model: "m"},
		},
	}}

	_, err := New(cfg, WithProvider(testutils.NewScriptedProvider())).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "e1")
}

func TestBuild_InvalidGraphTopology(t *testing.T) {
	cfg := graphConfig()
	cfg.Agent.Graph.Edges = []graph.Edge{{ID: "e1", From: "a", To: "ghost"}}

	_, err := New(cfg, WithProvider(testutils.NewScriptedProvider())).Build()
	var verr *graph.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestBuild_NilConfig(t *testing.T) {
	_, err := New(nil).Build()
	require.Error(t, err)
}

func TestBuild_ConfiguredProviderSatisfiesRefs(t *testing.T) {
	cfg := graphConfig()
	cfg.Agent.Graph.Nodes[0].LLM.Provider = "local"
	cfg.LLMs = map[string]config.LLMProviderConfig{
		"local": {Type: "ollama"},
	}

	agent, err := New(cfg).Build()
	require.NoError(t, err)
	assert.NotNil(t, agent)
}

func TestBuild_InjectedProviderWinsOverConfig(t *testing.T) {
	cfg := reactConfig()
	cfg.LLMs = map[string]config.LLMProviderConfig{
		"scripted": {Type: "openai"},
	}
	p := testutils.NewScriptedProvider("Final Answer: injected")

	agent, err := New(cfg, WithProvider(p)).Build()
	require.NoError(t, err)

	out, err := agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "injected", out)
}

func TestGraphReloader_OnlyWhilePaused(t *testing.T) {
	p := testutils.NewScriptedProvider("Final Answer: x")
	built, err := New(graphConfig(), WithProvider(p)).Build()
	require.NoError(t, err)
	agent := built.(*graph.Agent)

	reload := GraphReloader(agent)

	updated := graphConfig()
	updated.Agent.Graph.Nodes = append(updated.Agent.Graph.Nodes, graph.Node{
		ID:    "extra",
		Name:  "extra",
		LLM:   llms.Ref{Provider: "scripted", Model: "m"},
		React: react.Config{Enabled: true},
	})
	updated.Agent.Graph.Edges = []graph.Edge{{ID: "e1", From: "a", To: "extra"}}

	// Not paused: the reload is skipped.
	reload(updated)
	snap := agent.GetExecutionState()
	assert.Equal(t, graph.StateReady, snap.State)

	agent.Pause(nil)
	reload(updated)
	agent.Resume()

	out, err := agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Contains(t, out, "x")

	var sawExtra bool
	for _, e := range agent.GetExecutionState().History {
		if e.NodeID == "extra" {
			sawExtra = true
		}
	}
	assert.True(t, sawExtra, "patched node should execute after reload")
}
