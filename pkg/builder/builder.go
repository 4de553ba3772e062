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

// Package builder assembles runnable agents from configuration.
//
// The builder owns the cross-cutting wiring: LLM provider resolution,
// toolkit, conversation memory, checkpoint store and the event bus. Tools
// and providers are code, not configuration; they are handed to the builder
// and referenced from the config by name.
package builder

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vireo-ai/vireo/pkg/checkpoint"
	"github.com/vireo-ai/vireo/pkg/config"
	"github.com/vireo-ai/vireo/pkg/events"
	"github.com/vireo-ai/vireo/pkg/graph"
	"github.com/vireo-ai/vireo/pkg/llms"
	"github.com/vireo-ai/vireo/pkg/memory"
	"github.com/vireo-ai/vireo/pkg/protocol"
	"github.com/vireo-ai/vireo/pkg/react"
	"github.com/vireo-ai/vireo/pkg/toolkit"
)

// Agent is the uniform runnable surface produced by Build.
type Agent interface {
	Invoke(ctx context.Context, input string) (string, error)
	Stream(ctx context.Context, input string) (<-chan string, error)
}

// Builder accumulates the collaborators an agent needs.
type Builder struct {
	cfg       *config.Config
	providers *llms.Registry
	toolkit   *toolkit.Toolkit
	bus       *events.Bus
	store     checkpoint.Store
}

// Option configures a Builder.
type Option func(*Builder)

// WithProvider registers one LLM provider.
func WithProvider(p llms.Provider) Option {
	return func(b *Builder) {
		// Registration errors surface during Build's reference check.
		_ = b.providers.RegisterProvider(p)
	}
}

// WithProviders replaces the provider registry.
func WithProviders(reg *llms.Registry) Option {
	return func(b *Builder) { b.providers = reg }
}

// WithToolkit sets the toolkit handed to every agent.
func WithToolkit(tk *toolkit.Toolkit) Option {
	return func(b *Builder) { b.toolkit = tk }
}

// WithEventBus sets the observability bus.
func WithEventBus(bus *events.Bus) Option {
	return func(b *Builder) { b.bus = bus }
}

// WithCheckpointStore sets the external checkpoint store; overrides the
// config's in-memory default.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(b *Builder) { b.store = store }
}

// New creates a Builder for cfg.
func New(cfg *config.Config, opts ...Option) *Builder {
	b := &Builder{
		cfg:       cfg,
		providers: llms.NewRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.toolkit == nil {
		b.toolkit = toolkit.New(toolkit.WithEventBus(b.bus))
	}
	return b
}

// Build validates provider references and constructs the configured agent.
func (b *Builder) Build() (Agent, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("builder: config is nil")
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}
	b.registerConfiguredProviders()
	if err := b.checkProviderRefs(); err != nil {
		return nil, err
	}

	switch b.cfg.Agent.Type {
	case config.AgentGraph:
		return b.buildGraphAgent()
	case config.AgentReact:
		return b.buildReactAgent()
	default:
		return nil, fmt.Errorf("builder: unknown agent type '%s'", b.cfg.Agent.Type)
	}
}

// registerConfiguredProviders builds the providers the config declares.
// Providers injected in code keep their registration.
func (b *Builder) registerConfiguredProviders() {
	for name, pc := range b.cfg.LLMs {
		if _, ok := b.providers.Get(name); ok {
			continue
		}

		baseURL := pc.BaseURL
		if pc.Type == "ollama" && baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		_ = b.providers.RegisterProvider(llms.NewOpenAI(llms.OpenAIConfig{
			Name:       name,
			BaseURL:    baseURL,
			APIKey:     pc.APIKey,
			Timeout:    pc.Timeout,
			MaxRetries: pc.MaxRetries,
		}))
	}
}

// checkProviderRefs resolves every LLM reference the config names.
func (b *Builder) checkProviderRefs() error {
	check := func(where string, ref llms.Ref) error {
		if ref.Provider == "" {
			return nil
		}
		if _, err := b.providers.Resolve(ref); err != nil {
			return fmt.Errorf("builder: %s: %w", where, err)
		}
		return nil
	}

	if err := check("agent", b.cfg.Agent.LLM); err != nil {
		return err
	}
	for _, n := range b.cfg.Agent.Graph.Nodes {
		if err := check(fmt.Sprintf("node '%s'", n.ID), n.LLM); err != nil {
			return err
		}
	}
	for _, e := range b.cfg.Agent.Graph.Edges {
		if e.Condition == nil || e.Condition.Type != graph.ConditionAnalysis {
			continue
		}
		if err := check(fmt.Sprintf("edge '%s' condition", e.ID), e.Condition.AnalysisProvider); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) conversationID() protocol.ConversationID {
	if b.cfg.Agent.ConversationID != "" {
		return protocol.ConversationID(b.cfg.Agent.ConversationID)
	}
	return protocol.ConversationID(uuid.NewString())
}

func (b *Builder) memoryService() memory.Service {
	if b.cfg.Memory.Strategy == memory.StrategyNone {
		return memory.Noop{}
	}
	return memory.NewBufferWindow(b.cfg.Memory)
}

func (b *Builder) checkpointStore() checkpoint.Store {
	if b.store != nil {
		return b.store
	}
	if b.cfg.Checkpoints.Enabled {
		return checkpoint.NewMemoryStore()
	}
	return nil
}

func (b *Builder) buildGraphAgent() (Agent, error) {
	gc := b.cfg.Agent.Graph

	opts := []graph.Option{
		graph.WithName(b.cfg.Name),
		graph.WithConversationID(b.conversationID()),
		graph.WithEventBus(b.bus),
		graph.WithToolkit(b.toolkit),
		graph.WithMemory(b.memoryService()),
		graph.WithPauseSettings(gc.Pause),
		graph.WithTimeouts(gc.InputTimeout, gc.ApprovalTimeout),
	}
	if store := b.checkpointStore(); store != nil {
		opts = append(opts, graph.WithCheckpointStore(store))
	}

	return graph.New(gc.Nodes, gc.Edges, b.providers, opts...)
}

func (b *Builder) buildReactAgent() (Agent, error) {
	ref := b.cfg.Agent.LLM
	provider, err := b.providers.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}

	agent := react.New(provider, ref, b.toolkit, b.cfg.Agent.React,
		react.WithName(b.cfg.Name),
		react.WithEventBus(b.bus),
	)

	return &reactRunner{
		agent:          agent,
		memory:         b.memoryService(),
		conversationID: b.conversationID(),
	}, nil
}

// reactRunner adapts a react agent to the uniform surface, threading
// conversation memory through each call.
type reactRunner struct {
	agent          *react.Agent
	memory         memory.Service
	conversationID protocol.ConversationID
}

func (r *reactRunner) Invoke(ctx context.Context, input string) (string, error) {
	history, err := r.memory.Assemble(ctx, r.conversationID)
	if err != nil {
		return "", err
	}

	output, err := r.agent.Invoke(ctx, input, history, react.InvokeOptions{})
	if err != nil {
		return "", err
	}

	r.record(ctx, input, output)
	return output, nil
}

func (r *reactRunner) Stream(ctx context.Context, input string) (<-chan string, error) {
	history, err := r.memory.Assemble(ctx, r.conversationID)
	if err != nil {
		return nil, err
	}
	return r.agent.Stream(ctx, input, history, react.InvokeOptions{})
}

func (r *reactRunner) record(ctx context.Context, input, output string) {
	_ = r.memory.Load(ctx, r.conversationID, protocol.Message{Role: protocol.RoleUser, Content: input})
	_ = r.memory.Load(ctx, r.conversationID, protocol.Message{Role: protocol.RoleAssistant, Content: output})
}
