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

package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vireo-ai/vireo/pkg/checkpoint"
	"github.com/vireo-ai/vireo/pkg/events"
	"github.com/vireo-ai/vireo/pkg/llms"
	"github.com/vireo-ai/vireo/pkg/memory"
	"github.com/vireo-ai/vireo/pkg/protocol"
	"github.com/vireo-ai/vireo/pkg/toolkit"
)

const (
	// DefaultInputTimeout bounds waits for user input; expiry accepts the
	// current output.
	DefaultInputTimeout = 5 * time.Minute

	// DefaultApprovalTimeout bounds waits for approval and chat turns;
	// expiry rejects / ends the chat.
	DefaultApprovalTimeout = 10 * time.Minute

	// completionPollInterval is the stream loop's idle poll.
	completionPollInterval = 50 * time.Millisecond

	// contextHistoryLimit caps per-node history fed through contextFrom
	// edges.
	contextHistoryLimit = 5
)

// ErrNoEntryNodes reports an invoke for which no entry node could be
// determined.
var ErrNoEntryNodes = errors.New("no entry nodes")

// ErrNotPaused guards operations permitted only while paused.
var ErrNotPaused = errors.New("agent is not paused")

// ErrRunning guards operations permitted only while not running.
var ErrRunning = errors.New("agent is running")

// ValidationError is the fatal outcome of graph validation.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("graph validation failed: %s", strings.Join(e.Result.Errors, "; "))
}

// Agent executes a node/edge graph.
type Agent struct {
	name           string
	conversationID protocol.ConversationID

	nodes     map[protocol.NodeID]Node
	nodeOrder []protocol.NodeID
	edges     []Edge

	providers *llms.Registry
	toolkit   *toolkit.Toolkit
	bus       *events.Bus
	store     checkpoint.Store
	memory    memory.Service

	confidence Estimator

	inputTimeout    time.Duration
	approvalTimeout time.Duration

	stateMu sync.Mutex
	state   AgentState

	pauseMu       sync.Mutex
	paused        bool
	resumeCh      chan struct{}
	pauseSettings PauseSettings

	choiceMu sync.Mutex
	choices  map[protocol.EdgeID]string

	runMu     sync.Mutex
	runCancel context.CancelFunc

	activeTasks atomic.Int64

	restoredMu     sync.Mutex
	restoredActive []protocol.NodeID
	restoredInput  string

	exec *executionState
}

// Option configures an Agent.
type Option func(*Agent)

// WithName sets the agent's name used in events and spans.
func WithName(name string) Option {
	return func(a *Agent) { a.name = name }
}

// WithConversationID pins the conversation used for memory and external
// checkpoints.
func WithConversationID(id protocol.ConversationID) Option {
	return func(a *Agent) { a.conversationID = id }
}

// WithEventBus attaches the observability bus.
func WithEventBus(bus *events.Bus) Option {
	return func(a *Agent) { a.bus = bus }
}

// WithToolkit binds the tools available to every node.
func WithToolkit(tk *toolkit.Toolkit) Option {
	return func(a *Agent) { a.toolkit = tk }
}

// WithCheckpointStore sets the external checkpoint store.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(a *Agent) { a.store = store }
}

// WithMemory sets the conversation memory service.
func WithMemory(svc memory.Service) Option {
	return func(a *Agent) { a.memory = svc }
}

// WithPauseSettings configures the pause barriers.
func WithPauseSettings(ps PauseSettings) Option {
	return func(a *Agent) { a.pauseSettings = ps }
}

// WithTimeouts overrides the user-interaction timeouts.
func WithTimeouts(input, approval time.Duration) Option {
	return func(a *Agent) {
		if input > 0 {
			a.inputTimeout = input
		}
		if approval > 0 {
			a.approvalTimeout = approval
		}
	}
}

// WithConfidenceEstimator replaces the default keyword estimator.
func WithConfidenceEstimator(e Estimator) Option {
	return func(a *Agent) { a.confidence = e }
}

// New validates the graph and builds a ready agent. Validation errors are
// fatal; warnings are published on the bus. Nodes with reasoning disabled
// get their step budget coerced to one.
func New(nodes []Node, edges []Edge, providers *llms.Registry, opts ...Option) (*Agent, error) {
	a := &Agent{
		name:            "graph",
		conversationID:  protocol.ConversationID(uuid.NewString()),
		nodes:           make(map[protocol.NodeID]Node, len(nodes)),
		edges:           append([]Edge{}, edges...),
		providers:       providers,
		memory:          memory.Noop{},
		confidence:      KeywordEstimator{},
		inputTimeout:    DefaultInputTimeout,
		approvalTimeout: DefaultApprovalTimeout,
		choices:         make(map[protocol.EdgeID]string),
		state:           StateInitializing,
		exec:            newExecutionState(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.publish(events.TopicAgentInitializing, map[string]any{"nodes": len(nodes), "edges": len(edges)})

	result := Validate(nodes, edges)
	if !result.Valid {
		a.publish(events.TopicAgentError, map[string]any{"errors": result.Errors})
		return nil, &ValidationError{Result: result}
	}
	for _, warning := range result.Warnings {
		a.publish(events.TopicAgentError, map[string]any{"warning": warning})
	}

	for _, n := range nodes {
		if !n.React.Enabled {
			n.React.MaxSteps = 1
		}
		a.nodes[n.ID] = n
		a.nodeOrder = append(a.nodeOrder, n.ID)
	}

	a.exec.joinTracker = buildJoinTracker(edges, nil)

	a.setState(StateReady)
	a.publish(events.TopicAgentReady, nil)
	return a, nil
}

// State returns the current lifecycle state.
func (a *Agent) State() AgentState {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state
}

func (a *Agent) setState(st AgentState) {
	a.stateMu.Lock()
	prev := a.state
	a.state = st
	a.stateMu.Unlock()
	if prev != st {
		a.publish(events.TopicAgentStateChanged, map[string]any{"from": prev, "to": st})
	}
}

func (a *Agent) publish(topic events.Topic, payload any) {
	a.bus.Publish(topic, a.name, payload)
}

// selectEntries resolves the entry node set per the routing rules: a
// leading /command routes to command nodes, plain messages route to
// "_newmessage" nodes, and graphs without either start at nodes with no
// incoming edge.
func (a *Agent) selectEntries(input string) ([]Node, string, error) {
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, "/") {
		command := trimmed
		rest := ""
		if i := strings.IndexAny(trimmed, " \t\n"); i >= 0 {
			command = trimmed[:i]
			rest = strings.TrimSpace(trimmed[i:])
		}
		if entries := a.nodesByCommand(command); len(entries) > 0 {
			return entries, rest, nil
		}
	}

	if entries := a.nodesByCommand("_newmessage"); len(entries) > 0 {
		return entries, trimmed, nil
	}

	hasIncoming := make(map[protocol.NodeID]bool)
	for _, e := range a.edges {
		hasIncoming[e.To] = true
	}
	var entries []Node
	for _, id := range a.nodeOrder {
		if !hasIncoming[id] {
			entries = append(entries, a.nodes[id])
		}
	}
	if len(entries) == 0 {
		return nil, "", ErrNoEntryNodes
	}
	return entries, trimmed, nil
}

func (a *Agent) nodesByCommand(command string) []Node {
	var entries []Node
	for _, id := range a.nodeOrder {
		if a.nodes[id].Command == command {
			entries = append(entries, a.nodes[id])
		}
	}
	return entries
}

// Invoke runs the graph to completion and returns all yielded outputs
// joined by newlines.
func (a *Agent) Invoke(ctx context.Context, input string) (string, error) {
	ch, err := a.Stream(ctx, input)
	if err != nil {
		return "", err
	}

	var outputs []string
	for chunk := range ch {
		outputs = append(outputs, chunk)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.Join(outputs, "\n"), nil
}

// Stream starts a run and yields node outputs as they complete: entry
// nodes first, in submission order, then downstream completions. Each
// node's output appears at most once per run.
func (a *Agent) Stream(ctx context.Context, input string) (<-chan string, error) {
	entries, processed, err := a.selectEntries(input)
	if err != nil {
		a.setState(StateErrored)
		a.publish(events.TopicExecutionError, map[string]any{"error": err.Error()})
		return nil, err
	}
	return a.startRun(ctx, entries, processed)
}

// startRun spawns the given nodes and returns the draining stream.
func (a *Agent) startRun(ctx context.Context, entries []Node, input string) (<-chan string, error) {
	runCtx, cancel := context.WithCancel(ctx)
	a.runMu.Lock()
	a.runCancel = cancel
	a.runMu.Unlock()

	a.exec.beginRun()
	a.setState(StateRunning)

	entryIDs := make([]protocol.NodeID, len(entries))
	for i, n := range entries {
		entryIDs[i] = n.ID
	}
	a.publish(events.TopicEntryNodesDetermined, map[string]any{"nodes": entryIDs})
	a.publish(events.TopicExecutionStart, map[string]any{"input": input})

	promises := make([]*nodePromise, len(entries))
	for i, node := range entries {
		promises[i] = a.spawnNode(runCtx, node, input)
	}

	out := make(chan string, 64)
	go a.streamLoop(runCtx, cancel, out, promises)
	return out, nil
}

// nodePromise resolves with a node's terminal outcome.
type nodePromise struct {
	id   protocol.NodeID
	done chan nodeOutcome
}

type nodeOutcome struct {
	id     protocol.NodeID
	output string
	err    error
}

// spawnNode launches one node task. The active-task counter covers the
// node body and its fan-out, so the stream loop never sees a gap between
// a completion and the spawn of its successors.
func (a *Agent) spawnNode(ctx context.Context, node Node, input string) *nodePromise {
	promise := &nodePromise{id: node.ID, done: make(chan nodeOutcome, 1)}
	a.activeTasks.Add(1)

	go func() {
		defer a.activeTasks.Add(-1)
		outcome := a.runNode(ctx, node, input)
		promise.done <- outcome
	}()

	return promise
}

// streamLoop implements the drain order: entry promises first, then the
// completed queue until no task remains.
func (a *Agent) streamLoop(ctx context.Context, cancel context.CancelFunc, out chan<- string, promises []*nodePromise) {
	defer close(out)
	defer cancel()

	emit := func(chunk string) {
		select {
		case out <- chunk:
		case <-ctx.Done():
		}
	}

	for _, p := range promises {
		select {
		case outcome := <-p.done:
			if a.markEmitted(outcome.id) {
				emit(a.renderOutcome(outcome))
			}
		case <-ctx.Done():
			a.finishRun(ctx)
			return
		}
	}

	for {
		if ectx, ok := a.popCompleted(); ok {
			emit(a.renderContext(ectx))
			continue
		}
		if a.activeTasks.Load() == 0 {
			break
		}
		select {
		case <-time.After(completionPollInterval):
		case <-ctx.Done():
			a.finishRun(ctx)
			return
		}
	}

	a.finishRun(ctx)
}

func (a *Agent) finishRun(ctx context.Context) {
	if ctx.Err() != nil {
		// Aborted runs land in paused so they can be inspected, resumed
		// from a checkpoint, or stopped for good.
		if a.State() == StateRunning {
			a.setState(StatePaused)
		}
		return
	}
	a.publish(events.TopicExecutionComplete, map[string]any{
		"history": len(a.snapshotHistory()),
	})
	a.setState(StateReady)
}

// markEmitted records an id; false means it was already emitted this run.
func (a *Agent) markEmitted(id protocol.NodeID) bool {
	a.exec.mu.Lock()
	defer a.exec.mu.Unlock()
	if a.exec.emittedIds[id] {
		return false
	}
	a.exec.emittedIds[id] = true
	return true
}

// popCompleted takes the next unemitted completion off the queue.
func (a *Agent) popCompleted() (*ExecutionContext, bool) {
	a.exec.mu.Lock()
	defer a.exec.mu.Unlock()

	for len(a.exec.completedQueue) > 0 {
		ectx := a.exec.completedQueue[0]
		a.exec.completedQueue = a.exec.completedQueue[1:]
		if a.exec.emittedIds[ectx.NodeID] {
			continue
		}
		a.exec.emittedIds[ectx.NodeID] = true
		return ectx, true
	}
	return nil, false
}

func (a *Agent) renderOutcome(outcome nodeOutcome) string {
	if outcome.err != nil {
		return fmt.Sprintf("Error [%s]: %v", outcome.id, outcome.err)
	}
	return outcome.output
}

func (a *Agent) renderContext(ectx *ExecutionContext) string {
	if ectx.Err != "" {
		return fmt.Sprintf("Error [%s]: %s", ectx.NodeID, ectx.Err)
	}
	return ectx.Output
}

func (a *Agent) snapshotHistory() []HistoryEntry {
	a.exec.mu.Lock()
	defer a.exec.mu.Unlock()
	return append([]HistoryEntry{}, a.exec.history...)
}
