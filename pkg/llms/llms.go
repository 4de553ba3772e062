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

// Package llms defines the LLM provider contract consumed by the runtime.
//
// The runtime never talks to a model vendor directly; it depends on the
// Provider interface and resolves concrete providers through a Registry.
// Providers must honor context cancellation on every call and may stream
// chunks through ChatOptions.OnChunk.
package llms

import (
	"context"
	"fmt"

	"github.com/vireo-ai/vireo/pkg/protocol"
	"github.com/vireo-ai/vireo/pkg/registry"
)

// Ref names a provider/model pair as referenced from node and edge
// configuration.
type Ref struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`

	// TokenLimit caps the response size; zero means provider default.
	TokenLimit int `json:"tokenLimit,omitempty" yaml:"tokenLimit,omitempty"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Provider, r.Model)
}

// ChatOptions tunes a single Chat call.
type ChatOptions struct {
	Model      string
	TokenLimit int

	// Temperature is forwarded verbatim; nil leaves the provider default.
	Temperature *float64

	// StopSequences terminate generation when emitted by the model.
	StopSequences []string

	// OnChunk, when non-nil, receives response text incrementally. The
	// full response is still returned from Chat.
	OnChunk func(chunk string)

	// Config carries provider-specific knobs.
	Config map[string]any
}

// Usage reports token accounting for a call when the provider knows it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the result of a Chat call.
type Response struct {
	Text  string `json:"text"`
	Usage *Usage `json:"usage,omitempty"`
}

// Provider is a conversational LLM backend.
//
// Chat must observe ctx: a canceled context aborts the call promptly and
// returns ctx.Err() (possibly wrapped).
type Provider interface {
	Name() string

	Chat(ctx context.Context, messages []protocol.Message, opts ChatOptions) (*Response, error)
}

// Registry holds named providers.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

// RegisterProvider adds a provider under its own name.
func (r *Registry) RegisterProvider(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	return r.Register(p.Name(), p)
}

// Resolve returns the provider for a Ref.
func (r *Registry) Resolve(ref Ref) (Provider, error) {
	p, ok := r.Get(ref.Provider)
	if !ok {
		return nil, fmt.Errorf("llm provider '%s' not registered", ref.Provider)
	}
	return p, nil
}

// ChatOptionsFor builds ChatOptions from a Ref.
func ChatOptionsFor(ref Ref) ChatOptions {
	return ChatOptions{Model: ref.Model, TokenLimit: ref.TokenLimit}
}
