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

// Package graph implements the graph agent: nodes are ReAct-capable units
// connected by conditional edges, executed concurrently with join barriers,
// exclusive edge groups, pause points and rollback checkpoints.
package graph

import (
	"time"

	"github.com/vireo-ai/vireo/pkg/llms"
	"github.com/vireo-ai/vireo/pkg/memory"
	"github.com/vireo-ai/vireo/pkg/protocol"
	"github.com/vireo-ai/vireo/pkg/react"
)

// ConditionType selects how an edge decides traversal.
type ConditionType string

const (
	// ConditionKeyword traverses when the upstream output contains the
	// keyword, case-insensitively.
	ConditionKeyword ConditionType = "keyword"

	// ConditionAnalysis asks an LLM whether the condition is satisfied.
	ConditionAnalysis ConditionType = "analysis"
)

// Condition guards an edge. A nil Condition always traverses.
type Condition struct {
	Type    ConditionType `json:"type" yaml:"type"`
	Keyword string        `json:"keyword,omitempty" yaml:"keyword,omitempty"`

	// Prompt and AnalysisProvider apply to analysis conditions.
	Prompt           string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	AnalysisProvider llms.Ref `json:"analysisProvider,omitempty" yaml:"analysisProvider,omitempty"`
}

// InteractionMode is how a node involves the user.
type InteractionMode string

const (
	// ModeSingleReactCycle runs one reason-act pass, optionally gated by
	// confidence and approval.
	ModeSingleReactCycle InteractionMode = "single_react_cycle"

	// ModeContinuousChat alternates agent turns and user turns until the
	// user ends the chat or the wait times out.
	ModeContinuousChat InteractionMode = "continuous_chat"
)

// UserInteraction configures a node's human-in-the-loop behavior.
type UserInteraction struct {
	Mode                InteractionMode `json:"mode" yaml:"mode"`
	RequireApproval     bool            `json:"requireApproval,omitempty" yaml:"requireApproval,omitempty"`
	ConfidenceThreshold float64         `json:"confidenceThreshold,omitempty" yaml:"confidenceThreshold,omitempty"`
	ApprovalPrompt      string          `json:"approvalPrompt,omitempty" yaml:"approvalPrompt,omitempty"`
	AllowUserPrompting  bool            `json:"allowUserPrompting,omitempty" yaml:"allowUserPrompting,omitempty"`
	ShowEndChatButton   bool            `json:"showEndChatButton,omitempty" yaml:"showEndChatButton,omitempty"`
}

// Node is one graph vertex: a ReAct-capable unit with its own model.
type Node struct {
	ID          protocol.NodeID `json:"id" yaml:"id"`
	Command     string          `json:"command,omitempty" yaml:"command,omitempty"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	LLM         llms.Ref        `json:"llm" yaml:"llm"`
	React       react.Config    `json:"reactConfig" yaml:"reactConfig"`

	Interaction *UserInteraction `json:"userInteraction,omitempty" yaml:"userInteraction,omitempty"`
}

// Edge is a directed connector with a traversal condition.
type Edge struct {
	ID   protocol.EdgeID `json:"id" yaml:"id"`
	From protocol.NodeID `json:"from" yaml:"from"`
	To   protocol.NodeID `json:"to" yaml:"to"`

	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`

	// MemoryOverride narrows the target node's memory window for this
	// traversal only.
	MemoryOverride *memory.Config `json:"memoryOverride,omitempty" yaml:"memoryOverride,omitempty"`

	// ContextFrom feeds the target node the recent history of the listed
	// nodes.
	ContextFrom []protocol.NodeID `json:"contextFrom,omitempty" yaml:"contextFrom,omitempty"`

	// ExclusiveGroup: at most one edge per group traverses per source
	// completion, lowest Priority first.
	ExclusiveGroup string `json:"exclusiveGroup,omitempty" yaml:"exclusiveGroup,omitempty"`
	Priority       int    `json:"priority,omitempty" yaml:"priority,omitempty"`

	// IsJoin makes To a barrier over JoinPredecessors.
	IsJoin           bool              `json:"isJoin,omitempty" yaml:"isJoin,omitempty"`
	JoinPredecessors []protocol.NodeID `json:"joinPredecessors,omitempty" yaml:"joinPredecessors,omitempty"`
}

// AgentState is the lifecycle state of a graph agent.
type AgentState string

const (
	StateInitializing AgentState = "initializing"
	StateReady        AgentState = "ready"
	StateRunning      AgentState = "running"
	StatePaused       AgentState = "paused"
	StateStopped      AgentState = "stopped"
	StateErrored      AgentState = "errored"
)

// PauseSettings selects where execution pauses.
type PauseSettings struct {
	// Before pauses ahead of each node execution.
	Before bool `json:"before,omitempty" yaml:"before,omitempty"`

	// After pauses once a node completes, ahead of fan-out.
	After bool `json:"after,omitempty" yaml:"after,omitempty"`

	// Between pauses between a completion and edge evaluation.
	Between bool `json:"between,omitempty" yaml:"between,omitempty"`

	// AutoCheckpoint persists a checkpoint at every pause point.
	AutoCheckpoint bool `json:"autoCheckpoint,omitempty" yaml:"autoCheckpoint,omitempty"`
}

// NodeStatus tracks one node execution.
type NodeStatus string

const (
	StatusRunning           NodeStatus = "running"
	StatusAwaitingUserInput NodeStatus = "awaiting_user_input"
	StatusAwaitingApproval  NodeStatus = "awaiting_approval"
	StatusChatting          NodeStatus = "chatting"
	StatusCompleted         NodeStatus = "completed"
	StatusFailed            NodeStatus = "failed"
)

// ExecutionContext is the live record of one running node.
type ExecutionContext struct {
	NodeID    protocol.NodeID    `json:"nodeId"`
	NodeName  string             `json:"nodeName"`
	Input     string             `json:"input"`
	Output    string             `json:"output,omitempty"`
	Status    NodeStatus         `json:"status"`
	StartedAt time.Time          `json:"startedAt"`
	Err       string             `json:"error,omitempty"`
	Chat      []protocol.Message `json:"chat,omitempty"`
}

// HistoryEntry is one completed node execution.
type HistoryEntry struct {
	NodeID     protocol.NodeID `json:"nodeId"`
	NodeName   string          `json:"nodeName"`
	Input      string          `json:"input"`
	Output     string          `json:"output"`
	StartedAt  time.Time       `json:"startedAt"`
	DurationMs int64           `json:"durationMs"`
}

// InteractionKind classifies a pending user interaction.
type InteractionKind string

const (
	InteractionApproval InteractionKind = "approval"
	InteractionInput    InteractionKind = "input"
	InteractionChat     InteractionKind = "chat"
)

// PendingInteraction is the public view of one wait.
type PendingInteraction struct {
	NodeID protocol.NodeID `json:"nodeId"`
	Kind   InteractionKind `json:"kind"`
	Since  time.Time       `json:"since"`
}

// ChatAction is the user's move in a continuous chat.
type ChatAction string

const (
	ChatContinue ChatAction = "continue"
	ChatEnd      ChatAction = "end"
)

// RollbackCheckpoint is one in-memory snapshot in the rollback ring.
type RollbackCheckpoint struct {
	ID       string          `json:"id"`
	NodeID   protocol.NodeID `json:"nodeId"`
	NodeName string          `json:"nodeName"`
	At       time.Time       `json:"at"`

	history      []HistoryEntry
	currentNodes map[protocol.NodeID]*ExecutionContext
	joinTracker  map[protocol.NodeID]*joinState
}
