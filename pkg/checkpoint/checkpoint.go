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

// Package checkpoint persists graph execution snapshots keyed by
// conversation. The payload state is opaque to the store; the graph agent
// serializes and re-hydrates it.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vireo-ai/vireo/pkg/protocol"
)

// Payload is one stored checkpoint.
type Payload struct {
	ID             string                  `json:"id"`
	ConversationID protocol.ConversationID `json:"conversationId"`
	CreatedAt      time.Time               `json:"createdAt"`

	// State is the agent-defined snapshot, serialized by the writer.
	State json.RawMessage `json:"state"`
}

// Store saves and retrieves checkpoints.
type Store interface {
	// Save persists a payload and returns its id.
	Save(ctx context.Context, conversationID protocol.ConversationID, state json.RawMessage) (string, error)

	// Get returns the payload, or nil when the id is unknown.
	Get(ctx context.Context, conversationID protocol.ConversationID, id string) (*Payload, error)
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	byConvo map[protocol.ConversationID]map[string]*Payload
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byConvo: make(map[protocol.ConversationID]map[string]*Payload)}
}

// Save stores a copy of state under a fresh id.
func (s *MemoryStore) Save(ctx context.Context, conversationID protocol.ConversationID, state json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	payload := &Payload{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		CreatedAt:      time.Now(),
		State:          append(json.RawMessage(nil), state...),
	}

	s.mu.Lock()
	convo, ok := s.byConvo[conversationID]
	if !ok {
		convo = make(map[string]*Payload)
		s.byConvo[conversationID] = convo
	}
	convo[payload.ID] = payload
	s.mu.Unlock()

	slog.Debug("saved checkpoint",
		"checkpoint_id", payload.ID,
		"conversation_id", conversationID,
		"bytes", len(state))

	return payload.ID, nil
}

// Get returns the stored payload, nil when absent.
func (s *MemoryStore) Get(ctx context.Context, conversationID protocol.ConversationID, id string) (*Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	convo, ok := s.byConvo[conversationID]
	if !ok {
		return nil, nil
	}
	payload, ok := convo[id]
	if !ok {
		return nil, nil
	}
	return payload, nil
}

// List returns the checkpoint ids stored for a conversation, newest first.
func (s *MemoryStore) List(conversationID protocol.ConversationID) []*Payload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convo := s.byConvo[conversationID]
	out := make([]*Payload, 0, len(convo))
	for _, p := range convo {
		out = append(out, p)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)

// Validate ensures a payload round-trips as JSON.
func (p *Payload) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("checkpoint payload has no id")
	}
	if len(p.State) > 0 && !json.Valid(p.State) {
		return fmt.Errorf("checkpoint state is not valid JSON")
	}
	return nil
}
