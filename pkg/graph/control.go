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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vireo-ai/vireo/pkg/events"
	"github.com/vireo-ai/vireo/pkg/protocol"
)

// PauseOptions refines a Pause call.
type PauseOptions struct {
	// Branches holds node ids whose next execution pauses even after a
	// global Resume.
	Branches []protocol.NodeID
}

// Pause raises the pause flag. Running nodes finish their current
// suspension point and block at the next barrier.
func (a *Agent) Pause(opts *PauseOptions) {
	a.pauseMu.Lock()
	if !a.paused {
		a.paused = true
		a.resumeCh = make(chan struct{})
	}
	a.pauseMu.Unlock()

	if opts != nil && len(opts.Branches) > 0 {
		a.exec.mu.Lock()
		for _, id := range opts.Branches {
			a.exec.pausedBranches[id] = true
		}
		a.exec.mu.Unlock()
	}

	a.setState(StatePaused)
}

// Resume clears the pause flag and all paused branches; every waiting
// task proceeds.
func (a *Agent) Resume() {
	a.exec.mu.Lock()
	a.exec.pausedBranches = make(map[protocol.NodeID]bool)
	a.exec.mu.Unlock()

	a.pauseMu.Lock()
	wasPaused := a.paused
	a.paused = false
	ch := a.resumeCh
	a.pauseMu.Unlock()

	if wasPaused && ch != nil {
		close(ch)
	}

	if a.activeTasks.Load() > 0 {
		a.setState(StateRunning)
	} else {
		a.setState(StateReady)
	}
}

// Abort cancels the current run. Cancellation is cooperative: tasks
// observe it at their next suspension point.
func (a *Agent) Abort() {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.setState(StatePaused)
	a.publish(events.TopicExecutionAborted, nil)
}

// GraphPatch upserts nodes and edges by id.
type GraphPatch struct {
	Nodes []Node `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Edges []Edge `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// UpdateGraphConfiguration applies a patch. Permitted only while paused;
// the patched graph must still validate.
func (a *Agent) UpdateGraphConfiguration(patch GraphPatch) error {
	if a.State() != StatePaused {
		return ErrNotPaused
	}

	nodes := make([]Node, 0, len(a.nodeOrder)+len(patch.Nodes))
	replaced := make(map[protocol.NodeID]bool)
	for _, pn := range patch.Nodes {
		replaced[pn.ID] = true
	}
	for _, id := range a.nodeOrder {
		if !replaced[id] {
			nodes = append(nodes, a.nodes[id])
		}
	}
	nodes = append(nodes, patch.Nodes...)

	edges := make([]Edge, 0, len(a.edges)+len(patch.Edges))
	replacedEdges := make(map[protocol.EdgeID]bool)
	for _, pe := range patch.Edges {
		replacedEdges[pe.ID] = true
	}
	for _, e := range a.edges {
		if !replacedEdges[e.ID] {
			edges = append(edges, e)
		}
	}
	edges = append(edges, patch.Edges...)

	result := Validate(nodes, edges)
	if !result.Valid {
		return &ValidationError{Result: result}
	}

	a.nodes = make(map[protocol.NodeID]Node, len(nodes))
	a.nodeOrder = a.nodeOrder[:0]
	for _, n := range nodes {
		if !n.React.Enabled {
			n.React.MaxSteps = 1
		}
		a.nodes[n.ID] = n
		a.nodeOrder = append(a.nodeOrder, n.ID)
	}
	a.edges = edges

	a.exec.mu.Lock()
	a.exec.joinTracker = buildJoinTracker(edges, a.exec.joinTracker)
	a.exec.mu.Unlock()

	slog.Info("graph configuration updated",
		"agent", a.name,
		"nodes", len(nodes),
		"edges", len(edges))
	return nil
}

// Rollback restores execution state to the checkpoint taken steps node
// executions ago. Permitted only while not running.
func (a *Agent) Rollback(steps int) error {
	if a.State() == StateRunning {
		return ErrRunning
	}
	if steps < 1 {
		steps = 1
	}

	cp, ok := a.exec.rollback(steps)
	if !ok {
		return fmt.Errorf("cannot roll back %d steps: only %d checkpoints", steps, len(a.GetRollbackCheckpoints()))
	}

	a.publish(events.TopicExecutionRolledBack, map[string]any{
		"steps":        steps,
		"checkpointId": cp.ID,
	})
	return nil
}

// GetRollbackCheckpoints returns the ring's metadata, oldest first.
func (a *Agent) GetRollbackCheckpoints() []RollbackCheckpoint {
	a.exec.mu.Lock()
	defer a.exec.mu.Unlock()

	out := make([]RollbackCheckpoint, len(a.exec.checkpoints))
	for i, cp := range a.exec.checkpoints {
		out[i] = RollbackCheckpoint{ID: cp.ID, NodeID: cp.NodeID, NodeName: cp.NodeName, At: cp.At}
	}
	return out
}

// ClearRollbackCheckpoints empties the ring.
func (a *Agent) ClearRollbackCheckpoints() {
	a.exec.mu.Lock()
	a.exec.checkpoints = nil
	a.exec.mu.Unlock()
	a.publish(events.TopicRollbackCheckpointsCleared, nil)
}

// GetPendingUserInteractions lists every wait currently blocking a node.
func (a *Agent) GetPendingUserInteractions() []PendingInteraction {
	a.exec.mu.Lock()
	defer a.exec.mu.Unlock()

	out := make([]PendingInteraction, 0, len(a.exec.pendingInteractions))
	for id, wait := range a.exec.pendingInteractions {
		out = append(out, PendingInteraction{NodeID: id, Kind: wait.kind, Since: wait.since})
	}
	return out
}

// ProvideUserInput answers a node's input wait.
func (a *Agent) ProvideUserInput(id protocol.NodeID, input string) error {
	return a.deliver(id, InteractionInput, interactionReply{input: input})
}

// ProvideUserApproval answers a node's approval wait.
func (a *Agent) ProvideUserApproval(id protocol.NodeID, approved bool) error {
	return a.deliver(id, InteractionApproval, interactionReply{approved: approved})
}

// ProvideChatAction answers a chat wait: continue with input, or end.
func (a *Agent) ProvideChatAction(id protocol.NodeID, action ChatAction, input string) error {
	return a.deliver(id, InteractionChat, interactionReply{action: action, input: input})
}

// ProvideUserChoice pre-answers an edge's next evaluation; an affirmative
// choice forces traversal, anything else forces a skip.
func (a *Agent) ProvideUserChoice(id protocol.EdgeID, choice string) {
	a.choiceMu.Lock()
	a.choices[id] = choice
	a.choiceMu.Unlock()
}

func (a *Agent) deliver(id protocol.NodeID, kind InteractionKind, reply interactionReply) error {
	a.exec.mu.Lock()
	wait, ok := a.exec.pendingInteractions[id]
	a.exec.mu.Unlock()

	if !ok {
		return fmt.Errorf("node '%s' has no pending interaction", id)
	}
	if wait.kind != kind {
		return fmt.Errorf("node '%s' awaits %s, not %s", id, wait.kind, kind)
	}

	select {
	case wait.ch <- reply:
		return nil
	default:
		return fmt.Errorf("node '%s' already received a reply", id)
	}
}

// GetExecutionState returns a read-only snapshot.
func (a *Agent) GetExecutionState() Snapshot {
	state := a.State()

	a.exec.mu.Lock()
	defer a.exec.mu.Unlock()

	snap := Snapshot{
		State:           state,
		CurrentNodes:    make(map[protocol.NodeID]NodeStatus, len(a.exec.currentNodes)),
		History:         append([]HistoryEntry{}, a.exec.history...),
		JoinReady:       make(map[protocol.NodeID]bool, len(a.exec.joinTracker)),
		CheckpointCount: len(a.exec.checkpoints),
	}
	for id, ectx := range a.exec.currentNodes {
		snap.CurrentNodes[id] = ectx.Status
	}
	for id, js := range a.exec.joinTracker {
		snap.JoinReady[id] = js.Ready
	}
	for id, wait := range a.exec.pendingInteractions {
		snap.PendingInteractions = append(snap.PendingInteractions, PendingInteraction{
			NodeID: id, Kind: wait.kind, Since: wait.since,
		})
	}
	return snap
}

// graphSnapshot is the external checkpoint payload.
type graphSnapshot struct {
	History        []HistoryEntry                        `json:"executionHistory"`
	CurrentNodes   map[protocol.NodeID]*ExecutionContext `json:"currentNodes"`
	JoinTracker    map[protocol.NodeID]*joinState        `json:"joinTracker"`
	ActiveEdges    []protocol.EdgeID                     `json:"activeEdges"`
	ActiveNodes    []protocol.NodeID                     `json:"activeNodes"`
	CurrentInput   string                                `json:"currentInput"`
	PausedBranches []protocol.NodeID                     `json:"pausedBranches"`
}

// saveExternalCheckpoint persists the current state to the checkpoint
// store, when one is configured.
func (a *Agent) saveExternalCheckpoint(ctx context.Context) {
	if a.store == nil {
		return
	}

	a.exec.mu.Lock()
	snap := graphSnapshot{
		History:      append([]HistoryEntry{}, a.exec.history...),
		CurrentNodes: cloneContexts(a.exec.currentNodes),
		JoinTracker:  cloneJoinTracker(a.exec.joinTracker),
		ActiveEdges:  append([]protocol.EdgeID{}, a.exec.activeEdges...),
	}
	for id, ectx := range a.exec.currentNodes {
		if ectx.Status != StatusCompleted && ectx.Status != StatusFailed {
			snap.ActiveNodes = append(snap.ActiveNodes, id)
			if snap.CurrentInput == "" {
				snap.CurrentInput = ectx.Input
			}
		}
	}
	for id := range a.exec.pausedBranches {
		snap.PausedBranches = append(snap.PausedBranches, id)
	}
	a.exec.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		slog.Error("failed to serialize checkpoint", "error", err)
		return
	}
	if _, err := a.store.Save(ctx, a.conversationID, raw); err != nil {
		slog.Error("failed to save checkpoint", "error", err)
	}
}

// RestoreFromCheckpoint re-hydrates execution state from the external
// store and leaves the agent paused, primed for ContinueWithInput. False
// when the checkpoint cannot be loaded.
func (a *Agent) RestoreFromCheckpoint(ctx context.Context, id string) bool {
	if a.store == nil {
		a.publish(events.TopicCheckpointRestoreError, map[string]any{
			"checkpointId": id,
			"error":        "no checkpoint store configured",
		})
		return false
	}

	payload, err := a.store.Get(ctx, a.conversationID, id)
	if err != nil || payload == nil {
		msg := "checkpoint not found"
		if err != nil {
			msg = err.Error()
		}
		a.publish(events.TopicCheckpointRestoreError, map[string]any{
			"checkpointId": id,
			"error":        msg,
		})
		return false
	}

	var snap graphSnapshot
	if err := json.Unmarshal(payload.State, &snap); err != nil {
		a.publish(events.TopicCheckpointRestoreError, map[string]any{
			"checkpointId": id,
			"error":        err.Error(),
		})
		return false
	}

	a.exec.mu.Lock()
	a.exec.history = snap.History
	a.exec.currentNodes = snap.CurrentNodes
	if a.exec.currentNodes == nil {
		a.exec.currentNodes = make(map[protocol.NodeID]*ExecutionContext)
	}
	if snap.JoinTracker != nil {
		a.exec.joinTracker = snap.JoinTracker
	}
	a.exec.activeEdges = snap.ActiveEdges
	a.exec.pausedBranches = make(map[protocol.NodeID]bool)
	for _, branch := range snap.PausedBranches {
		a.exec.pausedBranches[branch] = true
	}
	a.exec.mu.Unlock()

	a.restoredMu.Lock()
	a.restoredActive = snap.ActiveNodes
	a.restoredInput = snap.CurrentInput
	a.restoredMu.Unlock()

	a.Pause(nil)
	return true
}

// ContinueWithInput resumes a restored run: the restored active nodes are
// re-dispatched with the new input, replaying only the tail subgraph
// reachable from the restored point.
func (a *Agent) ContinueWithInput(ctx context.Context, input string) (<-chan string, error) {
	a.restoredMu.Lock()
	active := a.restoredActive
	a.restoredActive = nil
	if input == "" {
		input = a.restoredInput
	}
	a.restoredMu.Unlock()

	if len(active) == 0 {
		return nil, fmt.Errorf("no restored execution to continue")
	}

	var entries []Node
	for _, id := range active {
		if node, ok := a.nodes[id]; ok {
			entries = append(entries, node)
		}
	}
	if len(entries) == 0 {
		return nil, ErrNoEntryNodes
	}

	a.Resume()
	return a.startRun(ctx, entries, input)
}
