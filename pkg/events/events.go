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

// Package events provides the typed observability event bus.
//
// Every runtime component publishes events through a Bus. Topics form a
// closed set; open-ended emissions go through the Custom topic with a name
// recorded in the payload. Delivery is synchronous and ordered per topic
// per emitter.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic identifies an event kind.
type Topic string

// Lifecycle topics.
const (
	TopicAgentInitializing Topic = "graph-agent-initializing"
	TopicAgentReady        Topic = "graph-agent-ready"
	TopicAgentError        Topic = "graph-agent-error"
	TopicAgentStateChanged Topic = "agent-state-changed"
)

// Graph execution topics.
const (
	TopicExecutionStart        Topic = "graph-execution-start"
	TopicExecutionComplete     Topic = "graph-execution-complete"
	TopicExecutionError        Topic = "graph-execution-error"
	TopicExecutionAborted      Topic = "graph-execution-aborted"
	TopicEntryNodesDetermined  Topic = "graph-entry-nodes-determined"
	TopicEvaluatingEdges       Topic = "graph-evaluating-edges"
	TopicEdgeTraversed         Topic = "graph-edge-traversed"
	TopicEdgeNotTraversed      Topic = "graph-edge-not-traversed"
	TopicExclusiveGroupNoMatch Topic = "graph-exclusive-group-no-match"
	TopicJoinNodeWaiting       Topic = "graph-join-node-waiting"
	TopicJoinNodeReady         Topic = "graph-join-node-ready"
)

// Node topics.
const (
	TopicNodeExecutionStart    Topic = "graph-node-execution-start"
	TopicNodeExecutionComplete Topic = "graph-node-execution-complete"
	TopicNodeExecutionError    Topic = "graph-node-execution-error"
	TopicNodePaused            Topic = "graph-node-paused"
	TopicNodeAwaitingInput     Topic = "graph-node-awaiting-input"
	TopicNodeAwaitingApproval  Topic = "graph-node-awaiting-approval"
	TopicNodeLowConfidence     Topic = "graph-node-low-confidence"
	TopicNodeChatWaiting       Topic = "graph-node-chat-waiting"
)

// Rollback topics.
const (
	TopicRollbackCheckpointCreated  Topic = "rollback-checkpoint-created"
	TopicExecutionRolledBack        Topic = "graph-execution-rolled-back"
	TopicRollbackCheckpointsCleared Topic = "rollback-checkpoints-cleared"
)

// Tooling topics.
const (
	TopicToolValidationFailed   Topic = "tool-validation-failed"
	TopicToolRetry              Topic = "tool-retry"
	TopicToolPausedForApproval  Topic = "tool-paused-for-approval"
	TopicReactParsingError      Topic = "react-parsing-error"
	TopicReactMaxStepsExceeded  Topic = "react-max-steps-exceeded"
	TopicReactStep              Topic = "react-step"
	TopicEdgeAnalysisError      Topic = "graph-edge-analysis-error"
	TopicUserInputTimeout       Topic = "graph-user-input-timeout"
	TopicUserApprovalTimeout    Topic = "graph-user-approval-timeout"
	TopicCheckpointRestoreError Topic = "checkpoint-restore-error"
)

// LLM topics.
const (
	TopicLLMInvocationStart    Topic = "llm-invocation-start"
	TopicLLMInvocationComplete Topic = "llm-invocation-complete"
	TopicLLMStreamingChunk     Topic = "llm-streaming-chunk"
)

// TopicCustom carries emissions that do not fit the closed set. The payload
// must be a CustomPayload naming the original topic.
const TopicCustom Topic = "custom"

// CustomPayload wraps an open-ended event name and its data.
type CustomPayload struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// Event is a single observability emission. Every event carries at minimum
// a timestamp and the emitting context (agent name, node id, etc.).
type Event struct {
	ID        string    `json:"id"`
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Context   string    `json:"context"`
	Payload   any       `json:"payload,omitempty"`
}

// Listener receives events for a subscribed topic.
type Listener func(Event)

// Bus is a synchronous publish/subscribe hub. Listeners registered for a
// topic are invoked in registration order on the publisher's goroutine.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Topic][]Listener
	all       []Listener
	logEvents bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[Topic][]Listener)}
}

// NewLoggingBus creates a bus that additionally logs every event at debug
// level through slog.
func NewLoggingBus() *Bus {
	b := NewBus()
	b.logEvents = true
	return b
}

// Subscribe registers a listener for one topic.
func (b *Bus) Subscribe(topic Topic, fn Listener) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[topic] = append(b.listeners[topic], fn)
}

// SubscribeAll registers a listener for every topic.
func (b *Bus) SubscribeAll(fn Listener) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, fn)
}

// Publish delivers an event to topic and wildcard listeners synchronously.
// A nil Bus is a no-op so components may run unobserved.
func (b *Bus) Publish(topic Topic, context string, payload any) {
	if b == nil {
		return
	}

	evt := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: time.Now(),
		Context:   context,
		Payload:   payload,
	}

	if b.logEvents {
		slog.Debug("event", "topic", topic, "context", context)
	}

	b.mu.RLock()
	topicListeners := make([]Listener, len(b.listeners[topic]))
	copy(topicListeners, b.listeners[topic])
	allListeners := make([]Listener, len(b.all))
	copy(allListeners, b.all)
	b.mu.RUnlock()

	for _, fn := range topicListeners {
		fn(evt)
	}
	for _, fn := range allListeners {
		fn(evt)
	}
}

// PublishCustom delivers an open-ended event through TopicCustom.
func (b *Bus) PublishCustom(name, context string, payload any) {
	b.Publish(TopicCustom, context, CustomPayload{Name: name, Payload: payload})
}
