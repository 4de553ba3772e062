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
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vireo-ai/vireo/pkg/events"
	"github.com/vireo-ai/vireo/pkg/memory"
	"github.com/vireo-ai/vireo/pkg/observability"
	"github.com/vireo-ai/vireo/pkg/protocol"
	"github.com/vireo-ai/vireo/pkg/react"
)

// runNode executes one node end to end: checkpoint, pause barriers,
// interaction flow, completion bookkeeping and fan-out.
func (a *Agent) runNode(ctx context.Context, node Node, input string) nodeOutcome {
	start := time.Now()

	tracer := observability.GetTracer("vireo.graph")
	ctx, span := tracer.Start(ctx, observability.SpanNodeExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrAgentName, a.name),
			attribute.String(observability.AttrNodeID, string(node.ID)),
		),
	)
	defer span.End()

	cp := a.exec.writeCheckpoint(node)
	a.publish(events.TopicRollbackCheckpointCreated, map[string]any{
		"checkpointId": cp.ID,
		"nodeId":       node.ID,
	})

	ectx := &ExecutionContext{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Input:     input,
		Status:    StatusRunning,
		StartedAt: start,
	}
	a.exec.mu.Lock()
	a.exec.currentNodes[node.ID] = ectx
	a.exec.mu.Unlock()

	// currentNodes holds only in-flight work; the entry leaves with the
	// task, after fan-out.
	defer func() {
		a.exec.mu.Lock()
		delete(a.exec.currentNodes, node.ID)
		a.exec.mu.Unlock()
	}()

	a.publish(events.TopicNodeExecutionStart, map[string]any{
		"nodeId": node.ID,
		"input":  input,
	})

	if a.pauseSettings.Before || a.isBranchPaused(node.ID) {
		if err := a.pausePoint(ctx, node.ID, "before-node"); err != nil {
			return a.failNode(ctx, node, ectx, start, span, err)
		}
	}

	output, err := a.executeInteraction(ctx, node, ectx, input)
	if err != nil {
		return a.failNode(ctx, node, ectx, start, span, err)
	}

	duration := time.Since(start)
	a.exec.mu.Lock()
	ectx.Status = StatusCompleted
	ectx.Output = output
	a.exec.completedQueue = append(a.exec.completedQueue, ectx)
	a.exec.history = append(a.exec.history, HistoryEntry{
		NodeID:     node.ID,
		NodeName:   node.Name,
		Input:      input,
		Output:     output,
		StartedAt:  start,
		DurationMs: duration.Milliseconds(),
	})
	a.exec.mu.Unlock()

	a.publish(events.TopicNodeExecutionComplete, map[string]any{
		"nodeId":     node.ID,
		"durationMs": duration.Milliseconds(),
	})
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordNodeExecution(ctx, a.name, string(node.ID), duration, nil)
	}
	span.SetStatus(codes.Ok, "completed")

	_ = a.memory.Load(ctx, a.conversationID, protocol.Message{Role: protocol.RoleUser, Content: input})
	_ = a.memory.Load(ctx, a.conversationID, protocol.Message{Role: protocol.RoleAssistant, Content: output, Name: string(node.ID)})

	if a.pauseSettings.After {
		if err := a.pausePoint(ctx, node.ID, "after-node"); err != nil {
			return nodeOutcome{id: node.ID, output: output, err: nil}
		}
	}

	a.processNodeCompletion(ctx, node, output)

	return nodeOutcome{id: node.ID, output: output}
}

func (a *Agent) failNode(ctx context.Context, node Node, ectx *ExecutionContext, start time.Time, span trace.Span, err error) nodeOutcome {
	duration := time.Since(start)

	a.exec.mu.Lock()
	ectx.Status = StatusFailed
	ectx.Err = err.Error()
	a.exec.completedQueue = append(a.exec.completedQueue, ectx)
	a.exec.mu.Unlock()

	a.publish(events.TopicNodeExecutionError, map[string]any{
		"nodeId": node.ID,
		"error":  err.Error(),
	})
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordNodeExecution(ctx, a.name, string(node.ID), duration, err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return nodeOutcome{id: node.ID, err: err}
}

// executeInteraction runs the node's interaction mode and the approval
// gate, returning the node output.
func (a *Agent) executeInteraction(ctx context.Context, node Node, ectx *ExecutionContext, input string) (string, error) {
	provider, err := a.providers.Resolve(node.LLM)
	if err != nil {
		return "", err
	}

	contextMessages, err := a.collectContext(ctx, node)
	if err != nil {
		return "", err
	}

	agent := react.New(provider, node.LLM, a.toolkit, node.React,
		react.WithName(string(node.ID)),
		react.WithEventBus(a.bus),
	)

	var output string
	mode := ModeSingleReactCycle
	if node.Interaction != nil && node.Interaction.Mode != "" {
		mode = node.Interaction.Mode
	}

	switch mode {
	case ModeContinuousChat:
		output, err = a.runContinuousChat(ctx, node, ectx, agent, input, contextMessages)
	default:
		output, err = a.runSingleCycle(ctx, node, ectx, agent, input, contextMessages)
	}
	if err != nil {
		return "", err
	}

	if node.Interaction != nil && node.Interaction.RequireApproval {
		if err := a.awaitApproval(ctx, node, ectx, output); err != nil {
			return "", err
		}
	}
	return output, nil
}

// runSingleCycle performs one reason-act pass with the optional confidence
// gate.
func (a *Agent) runSingleCycle(ctx context.Context, node Node, ectx *ExecutionContext, agent *react.Agent, input string, contextMessages []protocol.Message) (string, error) {
	output, err := agent.Invoke(ctx, input, contextMessages, react.InvokeOptions{})
	if err != nil {
		return "", err
	}

	interaction := node.Interaction
	if interaction == nil || interaction.ConfidenceThreshold <= 0 {
		return output, nil
	}

	confidence := a.confidence.Estimate(output)
	if confidence >= interaction.ConfidenceThreshold {
		return output, nil
	}

	a.publish(events.TopicNodeLowConfidence, map[string]any{
		"nodeId":     node.ID,
		"confidence": confidence,
		"threshold":  interaction.ConfidenceThreshold,
	})
	a.setNodeStatus(ectx, StatusAwaitingUserInput)
	a.publish(events.TopicNodeAwaitingInput, map[string]any{
		"nodeId": node.ID,
		"output": output,
	})

	reply, ok := a.waitForInteraction(ctx, node.ID, InteractionInput, a.inputTimeout)
	a.setNodeStatus(ectx, StatusRunning)
	if !ok {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Timeout accepts the current output.
		a.publish(events.TopicUserInputTimeout, map[string]any{"nodeId": node.ID})
		return output, nil
	}

	switch strings.ToLower(strings.TrimSpace(reply.input)) {
	case "", "accept":
		return output, nil
	case "retry":
		return agent.Invoke(ctx, input+"\n\nYour previous answer was not confident enough. Try again.", contextMessages, react.InvokeOptions{})
	default:
		if interaction.AllowUserPrompting {
			return agent.Invoke(ctx, input+"\n\nUser guidance: "+reply.input, contextMessages, react.InvokeOptions{})
		}
		return output, nil
	}
}

// runContinuousChat alternates agent and user turns until the user ends
// the chat or the wait times out.
func (a *Agent) runContinuousChat(ctx context.Context, node Node, ectx *ExecutionContext, agent *react.Agent, input string, contextMessages []protocol.Message) (string, error) {
	chat := append([]protocol.Message{}, contextMessages...)
	current := input

	for {
		output, err := agent.Invoke(ctx, current, chat, react.InvokeOptions{})
		if err != nil {
			return "", err
		}

		a.exec.mu.Lock()
		ectx.Chat = append(ectx.Chat,
			protocol.Message{Role: protocol.RoleUser, Content: current},
			protocol.Message{Role: protocol.RoleAssistant, Content: output},
		)
		a.exec.mu.Unlock()
		chat = append(chat,
			protocol.Message{Role: protocol.RoleUser, Content: current},
			protocol.Message{Role: protocol.RoleAssistant, Content: output},
		)

		a.setNodeStatus(ectx, StatusChatting)
		a.publish(events.TopicNodeChatWaiting, map[string]any{
			"nodeId": node.ID,
			"output": output,
		})

		reply, ok := a.waitForInteraction(ctx, node.ID, InteractionChat, a.approvalTimeout)
		a.setNodeStatus(ectx, StatusRunning)
		if !ok {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// Timeout ends the chat with the last output.
			return output, nil
		}
		if reply.action == ChatEnd {
			return output, nil
		}
		current = reply.input
	}
}

// awaitApproval blocks the node output behind explicit user approval.
func (a *Agent) awaitApproval(ctx context.Context, node Node, ectx *ExecutionContext, output string) error {
	a.setNodeStatus(ectx, StatusAwaitingApproval)

	prompt := "Approve this output?"
	if node.Interaction.ApprovalPrompt != "" {
		prompt = node.Interaction.ApprovalPrompt
	}
	a.publish(events.TopicNodeAwaitingApproval, map[string]any{
		"nodeId": node.ID,
		"prompt": prompt,
		"output": output,
	})

	reply, ok := a.waitForInteraction(ctx, node.ID, InteractionApproval, a.approvalTimeout)
	a.setNodeStatus(ectx, StatusRunning)
	if !ok {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.publish(events.TopicUserApprovalTimeout, map[string]any{"nodeId": node.ID})
		return fmt.Errorf("approval timed out for node '%s'", node.ID)
	}
	if !reply.approved {
		return fmt.Errorf("output rejected for node '%s'", node.ID)
	}
	return nil
}

// collectContext assembles the node's history window: conversation memory
// (with any incoming-edge override applied for this node only) plus the
// recent history of nodes referenced through contextFrom edges.
func (a *Agent) collectContext(ctx context.Context, node Node) ([]protocol.Message, error) {
	svc := a.memory
	for _, e := range a.edges {
		if e.To == node.ID && e.MemoryOverride != nil {
			// The override lives in this lexical scope; svc reverts to
			// the shared service when this call returns.
			svc = memory.Override(a.memory, *e.MemoryOverride)
			break
		}
	}

	messages, err := svc.Assemble(ctx, a.conversationID)
	if err != nil {
		return nil, err
	}

	var contextParts []string
	for _, e := range a.edges {
		if e.To != node.ID || len(e.ContextFrom) == 0 {
			continue
		}
		for _, sourceID := range e.ContextFrom {
			for _, entry := range a.exec.lastHistoryOf(sourceID, contextHistoryLimit) {
				contextParts = append(contextParts,
					fmt.Sprintf("[%s] %s", entry.NodeName, entry.Output))
			}
		}
	}
	if len(contextParts) > 0 {
		messages = append(messages, protocol.Message{
			Role:    protocol.RoleSystem,
			Content: "Context from prior nodes:\n" + strings.Join(contextParts, "\n"),
		})
	}
	return messages, nil
}

func (a *Agent) setNodeStatus(ectx *ExecutionContext, status NodeStatus) {
	a.exec.mu.Lock()
	ectx.Status = status
	a.exec.mu.Unlock()
}

// waitForInteraction registers a pending wait and blocks until a reply,
// the timeout, or cancellation. ok is false on timeout and cancellation.
func (a *Agent) waitForInteraction(ctx context.Context, id protocol.NodeID, kind InteractionKind, timeout time.Duration) (interactionReply, bool) {
	wait := &interactionWait{
		kind:  kind,
		since: time.Now(),
		ch:    make(chan interactionReply, 1),
	}
	a.exec.mu.Lock()
	a.exec.pendingInteractions[id] = wait
	a.exec.mu.Unlock()

	defer func() {
		a.exec.mu.Lock()
		delete(a.exec.pendingInteractions, id)
		a.exec.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-wait.ch:
		return reply, true
	case <-timer.C:
		return interactionReply{}, false
	case <-ctx.Done():
		return interactionReply{}, false
	}
}

// pausePoint engages the pause latch, emits the pause event, optionally
// checkpoints, and blocks until resume.
func (a *Agent) pausePoint(ctx context.Context, id protocol.NodeID, phase string) error {
	a.pauseMu.Lock()
	if !a.paused {
		a.paused = true
		a.resumeCh = make(chan struct{})
	}
	a.pauseMu.Unlock()
	a.setState(StatePaused)

	a.publish(events.TopicNodePaused, map[string]any{
		"nodeId": id,
		"phase":  phase,
	})
	if a.pauseSettings.AutoCheckpoint {
		a.saveExternalCheckpoint(ctx)
	}
	return a.waitForResume(ctx)
}

// waitForResume blocks while the agent is paused or the branch is held.
func (a *Agent) waitForResume(ctx context.Context) error {
	for {
		a.pauseMu.Lock()
		paused := a.paused
		ch := a.resumeCh
		a.pauseMu.Unlock()

		if !paused {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Agent) isBranchPaused(id protocol.NodeID) bool {
	a.exec.mu.Lock()
	defer a.exec.mu.Unlock()
	return a.exec.pausedBranches[id]
}
