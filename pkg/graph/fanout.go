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
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vireo-ai/vireo/pkg/events"
	"github.com/vireo-ai/vireo/pkg/llms"
	"github.com/vireo-ai/vireo/pkg/observability"
	"github.com/vireo-ai/vireo/pkg/protocol"
)

// affirmations are the substrings that make an analysis condition true.
var affirmations = []string{"yes", "true", "satisfied"}

// processNodeCompletion fans out from a completed node: update join
// barriers, then evaluate and traverse outgoing edges.
func (a *Agent) processNodeCompletion(ctx context.Context, node Node, output string) {
	a.recordJoinCompletion(node.ID)

	if a.pauseSettings.Between {
		if err := a.pausePoint(ctx, node.ID, "between-nodes"); err != nil {
			return
		}
	}

	outgoing := a.outgoingEdges(node.ID)
	if len(outgoing) == 0 {
		return
	}
	a.publish(events.TopicEvaluatingEdges, map[string]any{
		"nodeId": node.ID,
		"edges":  len(outgoing),
	})

	var defaultGroup []Edge
	groupOrder := []string{}
	groups := make(map[string][]Edge)
	for _, e := range outgoing {
		if e.ExclusiveGroup == "" {
			defaultGroup = append(defaultGroup, e)
			continue
		}
		if _, seen := groups[e.ExclusiveGroup]; !seen {
			groupOrder = append(groupOrder, e.ExclusiveGroup)
		}
		groups[e.ExclusiveGroup] = append(groups[e.ExclusiveGroup], e)
	}

	for _, e := range defaultGroup {
		if a.evaluateEdge(ctx, e, output) {
			a.publish(events.TopicEdgeTraversed, map[string]any{"edgeId": e.ID})
			a.traverse(ctx, e, output)
		} else {
			a.publish(events.TopicEdgeNotTraversed, map[string]any{"edgeId": e.ID})
		}
	}

	for _, name := range groupOrder {
		edges := groups[name]
		sort.SliceStable(edges, func(i, j int) bool {
			if edges[i].Priority != edges[j].Priority {
				return edges[i].Priority < edges[j].Priority
			}
			return edges[i].ID < edges[j].ID
		})

		matched := false
		for _, e := range edges {
			if a.evaluateEdge(ctx, e, output) {
				a.publish(events.TopicEdgeTraversed, map[string]any{
					"edgeId": e.ID,
					"group":  name,
				})
				a.traverse(ctx, e, output)
				matched = true
				break
			}
			a.publish(events.TopicEdgeNotTraversed, map[string]any{"edgeId": e.ID})
		}
		if !matched {
			a.publish(events.TopicExclusiveGroupNoMatch, map[string]any{
				"nodeId": node.ID,
				"group":  name,
			})
		}
	}
}

func (a *Agent) outgoingEdges(id protocol.NodeID) []Edge {
	var out []Edge
	for _, e := range a.edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// recordJoinCompletion marks the node completed in every join barrier
// listing it, publishing ready transitions.
func (a *Agent) recordJoinCompletion(id protocol.NodeID) {
	a.exec.mu.Lock()
	var becameReady []protocol.NodeID
	for target, js := range a.exec.joinTracker {
		if !js.Required[id] || js.Ready {
			continue
		}
		js.Completed[id] = true
		if len(js.Completed) == len(js.Required) {
			js.Ready = true
			becameReady = append(becameReady, target)
		}
	}
	a.exec.mu.Unlock()

	for _, target := range becameReady {
		a.publish(events.TopicJoinNodeReady, map[string]any{"nodeId": target})
	}
}

// consumeJoinReady claims a ready join barrier, resetting it so the next
// round of predecessors must complete again. False when the barrier is
// not ready (dispatch is withheld).
func (a *Agent) consumeJoinReady(target protocol.NodeID) bool {
	a.exec.mu.Lock()
	defer a.exec.mu.Unlock()

	js, ok := a.exec.joinTracker[target]
	if !ok {
		return true
	}
	if !js.Ready {
		return false
	}
	js.Ready = false
	js.Completed = make(map[protocol.NodeID]bool)
	return true
}

// traverse dispatches an edge's target, honoring join barriers.
func (a *Agent) traverse(ctx context.Context, e Edge, output string) {
	if !a.consumeJoinReady(e.To) {
		a.publish(events.TopicJoinNodeWaiting, map[string]any{
			"nodeId": e.To,
			"edgeId": e.ID,
		})
		return
	}

	a.recordActiveEdge(e.ID)

	target, ok := a.nodes[e.To]
	if !ok {
		return
	}
	a.spawnNode(ctx, target, output)
}

func (a *Agent) recordActiveEdge(id protocol.EdgeID) {
	a.exec.mu.Lock()
	a.exec.activeEdges = append(a.exec.activeEdges, id)
	a.exec.mu.Unlock()
}

// evaluateEdge decides traversal. A recorded user choice takes precedence;
// otherwise nil conditions pass, keyword conditions substring-match, and
// analysis conditions ask the edge's LLM.
func (a *Agent) evaluateEdge(ctx context.Context, e Edge, output string) bool {
	if choice, ok := a.takeChoice(e.ID); ok {
		return isAffirmative(choice)
	}

	if e.Condition == nil {
		return true
	}

	tracer := observability.GetTracer("vireo.graph")
	_, span := tracer.Start(ctx, observability.SpanEdgeEvaluation,
		trace.WithAttributes(attribute.String(observability.AttrEdgeID, string(e.ID))),
	)
	defer span.End()

	switch e.Condition.Type {
	case ConditionKeyword:
		return strings.Contains(strings.ToLower(output), strings.ToLower(e.Condition.Keyword))

	case ConditionAnalysis:
		return a.evaluateAnalysis(ctx, e, output)

	default:
		return false
	}
}

// evaluateAnalysis asks the edge's analysis LLM; errors evaluate to false.
func (a *Agent) evaluateAnalysis(ctx context.Context, e Edge, output string) bool {
	provider, err := a.providers.Resolve(e.Condition.AnalysisProvider)
	if err != nil {
		a.publish(events.TopicEdgeAnalysisError, map[string]any{
			"edgeId": e.ID,
			"error":  err.Error(),
		})
		return false
	}

	prompt := e.Condition.Prompt + "\n\nText to analyze: " + output
	resp, err := provider.Chat(ctx, []protocol.Message{
		{Role: protocol.RoleUser, Content: prompt},
	}, llms.ChatOptionsFor(e.Condition.AnalysisProvider))
	if err != nil {
		a.publish(events.TopicEdgeAnalysisError, map[string]any{
			"edgeId": e.ID,
			"error":  err.Error(),
		})
		return false
	}

	return isAffirmative(resp.Text)
}

func isAffirmative(s string) bool {
	lowered := strings.ToLower(s)
	for _, word := range affirmations {
		if strings.Contains(lowered, word) {
			return true
		}
	}
	return false
}

func (a *Agent) takeChoice(id protocol.EdgeID) (string, bool) {
	a.choiceMu.Lock()
	defer a.choiceMu.Unlock()
	choice, ok := a.choices[id]
	if ok {
		delete(a.choices, id)
	}
	return choice, ok
}
