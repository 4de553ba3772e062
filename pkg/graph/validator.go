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
	"fmt"

	"github.com/vireo-ai/vireo/pkg/protocol"
)

// ValidationResult is the outcome of validating a graph. Errors block
// initialization; warnings permit running.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	HasCycles bool                `json:"hasCycles"`
	Cycles    [][]protocol.NodeID `json:"cycles,omitempty"`
}

// Validate checks a graph's structure. It is a pure function: coercions
// (like forcing maxSteps to 1 on non-CoT nodes) are reported as warnings
// and applied by the agent, not here.
func Validate(nodes []Node, edges []Edge) ValidationResult {
	result := ValidationResult{Valid: true}
	fail := func(format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	nodeSet := make(map[protocol.NodeID]bool, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			fail("node '%s' has no id", n.Name)
			continue
		}
		if nodeSet[n.ID] {
			fail("duplicate node id '%s'", n.ID)
		}
		nodeSet[n.ID] = true
	}

	for _, n := range nodes {
		if !n.React.Enabled && n.React.MaxSteps > 1 {
			warn("node '%s' has reasoning disabled; maxSteps will be coerced to 1", n.ID)
		}
	}

	edgeSet := make(map[protocol.EdgeID]bool, len(edges))
	for _, e := range edges {
		if edgeSet[e.ID] {
			fail("duplicate edge id '%s'", e.ID)
		}
		edgeSet[e.ID] = true

		if !nodeSet[e.From] {
			fail("edge '%s' references unknown source node '%s'", e.ID, e.From)
		}
		if !nodeSet[e.To] {
			fail("edge '%s' references unknown target node '%s'", e.ID, e.To)
		}
		if e.From == e.To {
			fail("edge '%s' is a self-loop on node '%s'", e.ID, e.From)
		}

		if e.IsJoin {
			if len(e.JoinPredecessors) == 0 {
				fail("join edge '%s' declares no predecessors", e.ID)
				continue
			}
			for _, pred := range e.JoinPredecessors {
				if !nodeSet[pred] {
					fail("join edge '%s' lists unknown predecessor '%s'", e.ID, pred)
					continue
				}
				if !hasEdge(edges, pred, e.To) {
					fail("join edge '%s' lists '%s' which has no edge to '%s'", e.ID, pred, e.To)
				}
			}
		}
	}

	if !result.Valid {
		return result
	}

	result.Cycles = findCycles(nodes, edges)
	result.HasCycles = len(result.Cycles) > 0
	for _, cycle := range result.Cycles {
		warn("cycle detected: %v", cycle)
	}

	for _, id := range unreachableNodes(nodes, edges) {
		warn("node '%s' is unreachable from any entry node", id)
	}

	return result
}

func hasEdge(edges []Edge, from, to protocol.NodeID) bool {
	for _, e := range edges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// findCycles runs depth-first search; an edge back to a grey vertex closes
// a cycle.
func findCycles(nodes []Node, edges []Edge) [][]protocol.NodeID {
	adjacency := make(map[protocol.NodeID][]protocol.NodeID)
	for _, e := range edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[protocol.NodeID]int)
	var cycles [][]protocol.NodeID
	var stack []protocol.NodeID

	var visit func(id protocol.NodeID)
	visit = func(id protocol.NodeID) {
		color[id] = grey
		stack = append(stack, id)

		for _, next := range adjacency[id] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				// Slice the stack from the revisited vertex to here.
				for i, v := range stack {
					if v == next {
						cycle := append([]protocol.NodeID{}, stack[i:]...)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, n := range nodes {
		if color[n.ID] == white {
			visit(n.ID)
		}
	}
	return cycles
}

// unreachableNodes reports nodes not reachable from any entry point, where
// entry points are command nodes and nodes without incoming edges.
func unreachableNodes(nodes []Node, edges []Edge) []protocol.NodeID {
	hasIncoming := make(map[protocol.NodeID]bool)
	adjacency := make(map[protocol.NodeID][]protocol.NodeID)
	for _, e := range edges {
		hasIncoming[e.To] = true
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	var frontier []protocol.NodeID
	for _, n := range nodes {
		if n.Command != "" || !hasIncoming[n.ID] {
			frontier = append(frontier, n.ID)
		}
	}

	reached := make(map[protocol.NodeID]bool)
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		if reached[id] {
			continue
		}
		reached[id] = true
		frontier = append(frontier, adjacency[id]...)
	}

	var unreachable []protocol.NodeID
	for _, n := range nodes {
		if !reached[n.ID] {
			unreachable = append(unreachable, n.ID)
		}
	}
	return unreachable
}
