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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vireo-ai/vireo/pkg/protocol"
)

// RollbackRingCap bounds the rollback checkpoint ring; oldest entries are
// evicted first.
const RollbackRingCap = 10

// joinState is the barrier bookkeeping for one join target.
type joinState struct {
	Required  map[protocol.NodeID]bool `json:"required"`
	Completed map[protocol.NodeID]bool `json:"completed"`
	Ready     bool                     `json:"ready"`
}

func (j *joinState) clone() *joinState {
	c := &joinState{
		Required:  make(map[protocol.NodeID]bool, len(j.Required)),
		Completed: make(map[protocol.NodeID]bool, len(j.Completed)),
		Ready:     j.Ready,
	}
	for k, v := range j.Required {
		c.Required[k] = v
	}
	for k, v := range j.Completed {
		c.Completed[k] = v
	}
	return c
}

// executionState is the mutable state of one agent instance. All access
// goes through the mutex; node tasks never hold references into the maps
// across suspension points.
type executionState struct {
	mu sync.Mutex

	currentNodes   map[protocol.NodeID]*ExecutionContext
	completedQueue []*ExecutionContext
	emittedIds     map[protocol.NodeID]bool
	history        []HistoryEntry
	joinTracker    map[protocol.NodeID]*joinState
	pausedBranches map[protocol.NodeID]bool
	activeEdges    []protocol.EdgeID

	pendingInteractions map[protocol.NodeID]*interactionWait

	checkpoints []*RollbackCheckpoint
}

// interactionWait is one in-flight user wait; replies arrive on ch.
type interactionWait struct {
	kind  InteractionKind
	since time.Time
	ch    chan interactionReply
}

type interactionReply struct {
	input    string
	approved bool
	action   ChatAction
}

func newExecutionState() *executionState {
	return &executionState{
		currentNodes:        make(map[protocol.NodeID]*ExecutionContext),
		emittedIds:          make(map[protocol.NodeID]bool),
		joinTracker:         make(map[protocol.NodeID]*joinState),
		pausedBranches:      make(map[protocol.NodeID]bool),
		pendingInteractions: make(map[protocol.NodeID]*interactionWait),
	}
}

// beginRun clears per-run bookkeeping.
func (s *executionState) beginRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emittedIds = make(map[protocol.NodeID]bool)
	s.completedQueue = nil
}

// writeCheckpoint snapshots the rollback-relevant state before a node
// executes, enforcing the ring cap.
func (s *executionState) writeCheckpoint(node Node) *RollbackCheckpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := &RollbackCheckpoint{
		ID:           uuid.NewString(),
		NodeID:       node.ID,
		NodeName:     node.Name,
		At:           time.Now(),
		history:      append([]HistoryEntry{}, s.history...),
		currentNodes: cloneContexts(s.currentNodes),
		joinTracker:  cloneJoinTracker(s.joinTracker),
	}

	s.checkpoints = append(s.checkpoints, cp)
	if len(s.checkpoints) > RollbackRingCap {
		s.checkpoints = s.checkpoints[len(s.checkpoints)-RollbackRingCap:]
	}
	return cp
}

// rollback restores the snapshot taken steps before the tail and truncates
// the ring. Returns false when not enough checkpoints exist.
func (s *executionState) rollback(steps int) (*RollbackCheckpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if steps < 1 || steps > len(s.checkpoints) {
		return nil, false
	}

	idx := len(s.checkpoints) - steps
	cp := s.checkpoints[idx]

	s.history = append([]HistoryEntry{}, cp.history...)
	s.currentNodes = cloneContexts(cp.currentNodes)
	s.joinTracker = cloneJoinTracker(cp.joinTracker)
	s.completedQueue = nil
	s.checkpoints = s.checkpoints[:idx]
	return cp, true
}

func cloneContexts(in map[protocol.NodeID]*ExecutionContext) map[protocol.NodeID]*ExecutionContext {
	out := make(map[protocol.NodeID]*ExecutionContext, len(in))
	for k, v := range in {
		c := *v
		c.Chat = append([]protocol.Message{}, v.Chat...)
		out[k] = &c
	}
	return out
}

func cloneJoinTracker(in map[protocol.NodeID]*joinState) map[protocol.NodeID]*joinState {
	out := make(map[protocol.NodeID]*joinState, len(in))
	for k, v := range in {
		out[k] = v.clone()
	}
	return out
}

// buildJoinTracker derives barrier state from an edge set. Joins whose
// predecessor set is unchanged keep their progress from prev; new or
// changed joins start empty.
func buildJoinTracker(edges []Edge, prev map[protocol.NodeID]*joinState) map[protocol.NodeID]*joinState {
	out := make(map[protocol.NodeID]*joinState)
	for _, e := range edges {
		if !e.IsJoin {
			continue
		}
		required := make(map[protocol.NodeID]bool, len(e.JoinPredecessors))
		for _, pred := range e.JoinPredecessors {
			required[pred] = true
		}
		js := &joinState{
			Required:  required,
			Completed: make(map[protocol.NodeID]bool),
		}
		if old, ok := prev[e.To]; ok && samePredecessors(old.Required, required) {
			js.Completed = old.Completed
			js.Ready = old.Ready
		}
		out[e.To] = js
	}
	return out
}

func samePredecessors(a, b map[protocol.NodeID]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// lastHistoryOf returns up to limit most recent history entries of one
// node, oldest first.
func (s *executionState) lastHistoryOf(id protocol.NodeID, limit int) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []HistoryEntry
	for _, entry := range s.history {
		if entry.NodeID == id {
			entries = append(entries, entry)
		}
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// Snapshot is the read-only view returned by GetExecutionState.
type Snapshot struct {
	State               AgentState                     `json:"state"`
	CurrentNodes        map[protocol.NodeID]NodeStatus `json:"currentNodes"`
	History             []HistoryEntry                 `json:"executionHistory"`
	PendingInteractions []PendingInteraction           `json:"pendingInteractions"`
	JoinReady           map[protocol.NodeID]bool       `json:"joinReady"`
	CheckpointCount     int                            `json:"checkpointCount"`
}
