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

// Package protocol defines the identifier types and message shapes shared
// across the runtime: agents, the toolkit, the event bus and persistence
// collaborators all speak in these terms.
package protocol

import "context"

// Opaque string identifiers. Uniqueness is scoped to the owning registry:
// a ToolID is unique within a Toolkit, NodeID/EdgeID within a graph agent.
type (
	ToolID         string
	NodeID         string
	EdgeID         string
	UserID         string
	ConversationID string
	AgentID        string
)

// Message roles as expected by LLM providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single conversation entry exchanged with an LLM provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Name identifies the tool for RoleTool messages.
	Name string `json:"name,omitempty"`
}

// NewMessage creates a message with the given role and content.
func NewMessage(role, content string) Message {
	return Message{Role: role, Content: content}
}

type contextKey string

// SessionIDKey carries the conversation/session identifier through contexts.
const SessionIDKey contextKey = "sessionID"

// SessionIDFromContext extracts the session ID from a context, returning
// "default" when none is set.
func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return "default"
	}
	if v := ctx.Value(SessionIDKey); v != nil {
		if sid, ok := v.(string); ok {
			return sid
		}
	}
	return "default"
}

// WithSessionID returns a context carrying the given session ID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}
