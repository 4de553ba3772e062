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

// Package memory holds conversation history and assembles it into the
// message window a node sees. Edge-level overrides narrow the window for
// one node without mutating the underlying service.
package memory

import (
	"context"
	"sync"

	"github.com/vireo-ai/vireo/pkg/protocol"
)

// Strategy names an assembly policy.
type Strategy string

const (
	StrategyBufferWindow Strategy = "buffer_window"
	StrategyNone         Strategy = "none"
)

// DefaultWindowSize bounds assembled history when none is configured.
const DefaultWindowSize = 20

// Config selects the assembly behavior. It doubles as the edge
// memoryOverride payload.
type Config struct {
	Strategy   Strategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	WindowSize int      `json:"windowSize,omitempty" yaml:"windowSize,omitempty"`
}

// Service records and assembles conversation history.
type Service interface {
	// Load appends one record to a conversation.
	Load(ctx context.Context, conversationID protocol.ConversationID, record protocol.Message) error

	// Assemble returns the history window for a conversation, oldest
	// first.
	Assemble(ctx context.Context, conversationID protocol.ConversationID) ([]protocol.Message, error)
}

// BufferWindow keeps full history in memory and assembles the trailing
// window.
type BufferWindow struct {
	mu      sync.RWMutex
	cfg     Config
	history map[protocol.ConversationID][]protocol.Message
}

// NewBufferWindow creates the in-memory service.
func NewBufferWindow(cfg Config) *BufferWindow {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyBufferWindow
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	return &BufferWindow{
		cfg:     cfg,
		history: make(map[protocol.ConversationID][]protocol.Message),
	}
}

func (b *BufferWindow) Load(ctx context.Context, conversationID protocol.ConversationID, record protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.history[conversationID] = append(b.history[conversationID], record)
	b.mu.Unlock()
	return nil
}

func (b *BufferWindow) Assemble(ctx context.Context, conversationID protocol.ConversationID) ([]protocol.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	history := b.history[conversationID]
	if b.cfg.Strategy == StrategyNone {
		return nil, nil
	}
	if len(history) > b.cfg.WindowSize {
		history = history[len(history)-b.cfg.WindowSize:]
	}
	out := make([]protocol.Message, len(history))
	copy(out, history)
	return out, nil
}

// Noop discards records and assembles nothing.
type Noop struct{}

func (Noop) Load(ctx context.Context, conversationID protocol.ConversationID, record protocol.Message) error {
	return nil
}

func (Noop) Assemble(ctx context.Context, conversationID protocol.ConversationID) ([]protocol.Message, error) {
	return nil, nil
}

// Override returns a view of base with cfg applied to assembly only. The
// base service is never mutated, so the override's scope ends when the
// view goes out of scope.
func Override(base Service, cfg Config) Service {
	return &overrideView{base: base, cfg: cfg}
}

type overrideView struct {
	base Service
	cfg  Config
}

func (o *overrideView) Load(ctx context.Context, conversationID protocol.ConversationID, record protocol.Message) error {
	return o.base.Load(ctx, conversationID, record)
}

func (o *overrideView) Assemble(ctx context.Context, conversationID protocol.ConversationID) ([]protocol.Message, error) {
	if o.cfg.Strategy == StrategyNone {
		return nil, nil
	}
	history, err := o.base.Assemble(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if o.cfg.WindowSize > 0 && len(history) > o.cfg.WindowSize {
		history = history[len(history)-o.cfg.WindowSize:]
	}
	return history, nil
}

var (
	_ Service = (*BufferWindow)(nil)
	_ Service = Noop{}
	_ Service = (*overrideView)(nil)
)
