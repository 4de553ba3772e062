// Copyright 2025 Vireo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the runtime configuration document and its loader.
//
// Configuration is YAML (JSON accepted), with ${VAR} environment expansion
// applied before decoding. A Loader reads from a provider and can watch for
// changes; graph agents consume reloaded node/edge sets only while paused.
package config

import (
	"fmt"
	"time"

	"github.com/vireo-ai/vireo/pkg/graph"
	"github.com/vireo-ai/vireo/pkg/llms"
	"github.com/vireo-ai/vireo/pkg/logger"
	"github.com/vireo-ai/vireo/pkg/memory"
	"github.com/vireo-ai/vireo/pkg/react"
)

// AgentType selects the agent implementation built from an AgentConfig.
type AgentType string

const (
	AgentReact AgentType = "react"
	AgentGraph AgentType = "graph"
)

// Config is the root configuration document.
type Config struct {
	// Name identifies the deployment in logs and events.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Logging logger.Config `json:"logging,omitempty" yaml:"logging,omitempty"`
	Server  ServerConfig  `json:"server,omitempty" yaml:"server,omitempty"`
	Memory  memory.Config `json:"memory,omitempty" yaml:"memory,omitempty"`

	Checkpoints CheckpointConfig `json:"checkpoints,omitempty" yaml:"checkpoints,omitempty"`

	// LLMs declares providers constructed at build time, keyed by the
	// name nodes reference. Providers registered in code take precedence.
	LLMs map[string]LLMProviderConfig `json:"llms,omitempty" yaml:"llms,omitempty"`

	Agent AgentConfig `json:"agent" yaml:"agent"`
}

// LLMProviderConfig declares one LLM backend.
type LLMProviderConfig struct {
	// Type is "openai" or "ollama"; both speak the chat-completions
	// protocol, differing only in defaults.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	APIKey  string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`

	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries int           `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
}

// ServerConfig configures the operational HTTP surface.
type ServerConfig struct {
	// MetricsAddr serves Prometheus metrics when non-empty, e.g.
	// ":9090".
	MetricsAddr string `json:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty"`
}

// CheckpointConfig enables external execution checkpoints.
type CheckpointConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// AgentConfig describes the agent to build.
type AgentConfig struct {
	Type AgentType `json:"type" yaml:"type"`

	// ConversationID pins the memory/checkpoint conversation; empty
	// generates one.
	ConversationID string `json:"conversationId,omitempty" yaml:"conversationId,omitempty"`

	// LLM and React apply to react agents.
	LLM   llms.Ref     `json:"llm,omitempty" yaml:"llm,omitempty"`
	React react.Config `json:"reactConfig,omitempty" yaml:"reactConfig,omitempty"`

	// Graph applies to graph agents.
	Graph GraphConfig `json:"graph,omitempty" yaml:"graph,omitempty"`
}

// GraphConfig is the declarative node/edge set plus runtime knobs.
type GraphConfig struct {
	Nodes []graph.Node `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Edges []graph.Edge `json:"edges,omitempty" yaml:"edges,omitempty"`

	Pause graph.PauseSettings `json:"pause,omitempty" yaml:"pause,omitempty"`

	InputTimeout    time.Duration `json:"inputTimeout,omitempty" yaml:"inputTimeout,omitempty"`
	ApprovalTimeout time.Duration `json:"approvalTimeout,omitempty" yaml:"approvalTimeout,omitempty"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "vireo"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = logger.FormatSimple
	}
	if c.Agent.Type == "" {
		if len(c.Agent.Graph.Nodes) > 0 {
			c.Agent.Type = AgentGraph
		} else {
			c.Agent.Type = AgentReact
		}
	}
	if c.Memory.Strategy == "" {
		c.Memory.Strategy = memory.StrategyBufferWindow
	}
}

// Validate checks the document for structural problems. Graph topology is
// validated separately by graph.Validate at build time.
func (c *Config) Validate() error {
	switch c.Agent.Type {
	case AgentReact:
		if c.Agent.LLM.Provider == "" {
			return fmt.Errorf("agent: react agents require llm.provider")
		}
	case AgentGraph:
		if len(c.Agent.Graph.Nodes) == 0 {
			return fmt.Errorf("agent: graph agents require at least one node")
		}
		for _, n := range c.Agent.Graph.Nodes {
			if n.LLM.Provider == "" {
				return fmt.Errorf("agent: node '%s' is missing llm.provider", n.ID)
			}
		}
	default:
		return fmt.Errorf("agent: unknown type '%s'", c.Agent.Type)
	}

	if c.Agent.Graph.InputTimeout < 0 || c.Agent.Graph.ApprovalTimeout < 0 {
		return fmt.Errorf("agent: timeouts must be non-negative")
	}

	for name, pc := range c.LLMs {
		switch pc.Type {
		case "", "openai", "ollama":
		default:
			return fmt.Errorf("llms: provider '%s' has unknown type '%s'", name, pc.Type)
		}
	}
	return nil
}
