package graph

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireo-ai/vireo/pkg/checkpoint"
	"github.com/vireo-ai/vireo/pkg/events"
	"github.com/vireo-ai/vireo/pkg/llms"
	"github.com/vireo-ai/vireo/pkg/protocol"
	"github.com/vireo-ai/vireo/pkg/react"
	"github.com/vireo-ai/vireo/pkg/testutils"
)

// registryWith registers each provider under its name.
func registryWith(t *testing.T, providers ...llms.Provider) *llms.Registry {
	t.Helper()
	reg := llms.NewRegistry()
	for _, p := range providers {
		require.NoError(t, reg.RegisterProvider(p))
	}
	return reg
}

func answer(text string) string {
	return "Final Answer: " + text
}

func reactNode(id protocol.NodeID, provider string) Node {
	return Node{
		ID:    id,
		Name:  string(id),
		LLM:   llms.Ref{Provider: provider, Model: "test-model"},
		React: react.Config{Enabled: true},
	}
}

func historyNodeIDs(entries []HistoryEntry) []protocol.NodeID {
	ids := make([]protocol.NodeID, len(entries))
	for i, e := range entries {
		ids[i] = e.NodeID
	}
	return ids
}

// S4: /command routes to the command node, plain input to _newmessage.
func TestEntrySelection_CommandRouting(t *testing.T) {
	p1 := testutils.NewScriptedProvider(answer("greeted"))
	p1.ProviderName = "p1"
	p2 := testutils.NewScriptedProvider(answer("messaged"))
	p2.ProviderName = "p2"

	n1 := reactNode("n1", "p1")
	n1.Command = "/greet"
	n2 := reactNode("n2", "p2")
	n2.Command = "_newmessage"

	agent, err := New([]Node{n1, n2}, nil, registryWith(t, p1, p2))
	require.NoError(t, err)

	out, err := agent.Invoke(context.Background(), "/greet world")
	require.NoError(t, err)
	assert.Equal(t, "greeted", out)

	history := agent.GetExecutionState().History
	require.Len(t, history, 1)
	assert.Equal(t, protocol.NodeID("n1"), history[0].NodeID)
	assert.Equal(t, "world", history[0].Input)

	out, err = agent.Invoke(context.Background(), "world")
	require.NoError(t, err)
	assert.Equal(t, "messaged", out)

	history = agent.GetExecutionState().History
	require.Len(t, history, 2)
	assert.Equal(t, protocol.NodeID("n2"), history[1].NodeID)
	assert.Equal(t, "world", history[1].Input)
}

func TestEntrySelection_FallsBackToNoIncoming(t *testing.T) {
	p := testutils.NewScriptedProvider(answer("root output"), answer("leaf output"))
	p.ProviderName = "scripted"

	root := reactNode("root", "scripted")
	leaf := reactNode("leaf", "scripted")

	agent, err := New([]Node{root, leaf}, []Edge{
		{ID: "e1", From: "root", To: "leaf"},
	}, registryWith(t, p))
	require.NoError(t, err)

	out, err := agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Contains(t, out, "root output")
	assert.Contains(t, out, "leaf output")

	history := agent.GetExecutionState().History
	assert.Equal(t, []protocol.NodeID{"root", "leaf"}, historyNodeIDs(history))
}

func TestInvoke_NoEntryNodesFails(t *testing.T) {
	p := testutils.NewScriptedProvider(answer("x"))
	p.ProviderName = "scripted"

	// Two nodes feeding each other: every node has an incoming edge.
	agent, err := New(simpleNodesWithLLM("a", "b"), []Edge{
		{ID: "e1", From: "a", To: "b"},
		{ID: "e2", From: "b", To: "a"},
	}, registryWith(t, p))
	require.NoError(t, err)

	_, err = agent.Invoke(context.Background(), "hello")
	require.ErrorIs(t, err, ErrNoEntryNodes)
	assert.Equal(t, StateErrored, agent.State())
}

func simpleNodesWithLLM(ids ...protocol.NodeID) []Node {
	nodes := make([]Node, len(ids))
	for i, id := range ids {
		nodes[i] = reactNode(id, "scripted")
	}
	return nodes
}

func TestNew_ValidationFailureIsFatal(t *testing.T) {
	p := testutils.NewScriptedProvider()
	p.ProviderName = "scripted"

	_, err := New(simpleNodesWithLLM("a"), []Edge{
		{ID: "e1", From: "a", To: "ghost"},
	}, registryWith(t, p))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.False(t, verr.Result.Valid)
}

// S5: within an exclusive group, only the lowest-priority matching edge
// traverses.
func TestExclusiveGroup_PriorityOrder(t *testing.T) {
	p1 := testutils.NewScriptedProvider(answer("yes please"))
	p1.ProviderName = "p1"
	p2 := testutils.NewScriptedProvider(answer("from n2"))
	p2.ProviderName = "p2"
	p3 := testutils.NewScriptedProvider(answer("from n3"))
	p3.ProviderName = "p3"

	kw := func(word string) *Condition {
		return &Condition{Type: ConditionKeyword, Keyword: word}
	}

	agent, err := New(
		[]Node{reactNode("n1", "p1"), reactNode("n2", "p2"), reactNode("n3", "p3")},
		[]Edge{
			{ID: "e1", From: "n1", To: "n2", ExclusiveGroup: "G", Priority: 1, Condition: kw("yes")},
			{ID: "e2", From: "n1", To: "n3", ExclusiveGroup: "G", Priority: 0, Condition: kw("yes")},
		},
		registryWith(t, p1, p2, p3),
	)
	require.NoError(t, err)

	out, err := agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Contains(t, out, "from n3")
	assert.NotContains(t, out, "from n2")

	ids := historyNodeIDs(agent.GetExecutionState().History)
	assert.Equal(t, []protocol.NodeID{"n1", "n3"}, ids)
}

func TestExclusiveGroup_NoMatchEmitsEvent(t *testing.T) {
	bus := events.NewBus()
	var noMatch int
	bus.Subscribe(events.TopicExclusiveGroupNoMatch, func(events.Event) { noMatch++ })

	p1 := testutils.NewScriptedProvider(answer("nothing matches"))
	p1.ProviderName = "p1"
	p2 := testutils.NewScriptedProvider(answer("unused"))
	p2.ProviderName = "p2"

	agent, err := New(
		[]Node{reactNode("n1", "p1"), reactNode("n2", "p2")},
		[]Edge{
			{ID: "e1", From: "n1", To: "n2", ExclusiveGroup: "G",
				Condition: &Condition{Type: ConditionKeyword, Keyword: "zzz"}},
		},
		registryWith(t, p1, p2),
		WithEventBus(bus),
	)
	require.NoError(t, err)

	_, err = agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, 1, noMatch)
	assert.Equal(t, []protocol.NodeID{"n1"}, historyNodeIDs(agent.GetExecutionState().History))
}

// S6: the join target is dispatched exactly once, after every declared
// predecessor completed.
func TestJoinBarrier_DispatchedExactlyOnce(t *testing.T) {
	pa := testutils.NewScriptedProvider(answer("a done"))
	pa.ProviderName = "pa"
	pb := testutils.NewScriptedProvider(answer("b done"))
	pb.ProviderName = "pb"
	pc := testutils.NewScriptedProvider(answer("c done"))
	pc.ProviderName = "pc"

	agent, err := New(
		[]Node{reactNode("a", "pa"), reactNode("b", "pb"), reactNode("c", "pc")},
		[]Edge{
			{ID: "eA", From: "a", To: "c"},
			{ID: "eB", From: "b", To: "c", IsJoin: true, JoinPredecessors: []protocol.NodeID{"a", "b"}},
		},
		registryWith(t, pa, pb, pc),
	)
	require.NoError(t, err)

	out, err := agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Contains(t, out, "c done")

	cRuns := 0
	for _, id := range historyNodeIDs(agent.GetExecutionState().History) {
		if id == "c" {
			cRuns++
		}
	}
	assert.Equal(t, 1, cRuns)
	assert.Equal(t, 1, pc.Calls())
}

// S7: rollback truncates history and the checkpoint ring.
func TestRollback_RestoresEarlierHistory(t *testing.T) {
	p := testutils.NewScriptedProvider(answer("a out"), answer("b out"), answer("c out"))
	p.ProviderName = "scripted"

	agent, err := New(
		simpleNodesWithLLM("a", "b", "c"),
		[]Edge{
			{ID: "e1", From: "a", To: "b"},
			{ID: "e2", From: "b", To: "c"},
		},
		registryWith(t, p),
	)
	require.NoError(t, err)

	_, err = agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	require.Len(t, agent.GetExecutionState().History, 3)
	require.Len(t, agent.GetRollbackCheckpoints(), 3)

	require.NoError(t, agent.Rollback(2))

	history := agent.GetExecutionState().History
	require.Len(t, history, 1)
	assert.Equal(t, protocol.NodeID("a"), history[0].NodeID)
	assert.Len(t, agent.GetRollbackCheckpoints(), 1)
}

func TestRollback_RejectedWhileRunning(t *testing.T) {
	p := testutils.NewScriptedProvider(answer("x"))
	p.ProviderName = "scripted"

	agent, err := New(simpleNodesWithLLM("a"), nil, registryWith(t, p))
	require.NoError(t, err)

	agent.setState(StateRunning)
	assert.ErrorIs(t, agent.Rollback(1), ErrRunning)
	agent.setState(StateReady)
}

func TestRollback_RingCapEviction(t *testing.T) {
	p := testutils.NewScriptedProvider(answer("x"))
	p.ProviderName = "scripted"

	agent, err := New(simpleNodesWithLLM("a"), nil, registryWith(t, p))
	require.NoError(t, err)

	for i := 0; i < RollbackRingCap+5; i++ {
		_, err = agent.Invoke(context.Background(), "go")
		require.NoError(t, err)
	}
	assert.Len(t, agent.GetRollbackCheckpoints(), RollbackRingCap)

	agent.ClearRollbackCheckpoints()
	assert.Empty(t, agent.GetRollbackCheckpoints())
}

func TestStream_AtMostOncePerNode(t *testing.T) {
	p := testutils.NewScriptedProvider(answer("a out"), answer("b out"))
	p.ProviderName = "scripted"

	agent, err := New(
		simpleNodesWithLLM("a", "b"),
		[]Edge{{ID: "e1", From: "a", To: "b"}},
		registryWith(t, p),
	)
	require.NoError(t, err)

	ch, err := agent.Stream(context.Background(), "go")
	require.NoError(t, err)

	var outputs []string
	for chunk := range ch {
		outputs = append(outputs, chunk)
	}
	assert.Equal(t, []string{"a out", "b out"}, outputs)
}

func TestKeywordCondition_CaseInsensitive(t *testing.T) {
	p1 := testutils.NewScriptedProvider(answer("The VERDICT is POSITIVE"))
	p1.ProviderName = "p1"
	p2 := testutils.NewScriptedProvider(answer("followed"))
	p2.ProviderName = "p2"

	agent, err := New(
		[]Node{reactNode("n1", "p1"), reactNode("n2", "p2")},
		[]Edge{
			{ID: "e1", From: "n1", To: "n2",
				Condition: &Condition{Type: ConditionKeyword, Keyword: "positive"}},
		},
		registryWith(t, p1, p2),
	)
	require.NoError(t, err)

	out, err := agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Contains(t, out, "followed")
}

func TestAnalysisCondition_AffirmativeAndError(t *testing.T) {
	bus := events.NewBus()
	var analysisErrors int
	bus.Subscribe(events.TopicEdgeAnalysisError, func(events.Event) { analysisErrors++ })

	p1 := testutils.NewScriptedProvider(answer("some output"))
	p1.ProviderName = "p1"
	p2 := testutils.NewScriptedProvider(answer("downstream"))
	p2.ProviderName = "p2"
	judge := testutils.NewScriptedProvider("Yes, the condition is satisfied.")
	judge.ProviderName = "judge"

	agent, err := New(
		[]Node{reactNode("n1", "p1"), reactNode("n2", "p2")},
		[]Edge{
			{ID: "e1", From: "n1", To: "n2", Condition: &Condition{
				Type:             ConditionAnalysis,
				Prompt:           "Is the output acceptable?",
				AnalysisProvider: llms.Ref{Provider: "judge", Model: "test-model"},
			}},
		},
		registryWith(t, p1, p2, judge),
		WithEventBus(bus),
	)
	require.NoError(t, err)

	out, err := agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Contains(t, out, "downstream")
	require.NotEmpty(t, judge.Prompts)
	assert.Contains(t, judge.Prompts[0], "Text to analyze: some output")

	// Unresolvable analysis provider evaluates to false with an event.
	p3 := testutils.NewScriptedProvider(answer("output"))
	p3.ProviderName = "p1"
	agent2, err := New(
		[]Node{reactNode("n1", "p1"), reactNode("n2", "p2")},
		[]Edge{
			{ID: "e1", From: "n1", To: "n2", Condition: &Condition{
				Type:             ConditionAnalysis,
				AnalysisProvider: llms.Ref{Provider: "missing", Model: "m"},
			}},
		},
		registryWith(t, p3, p2),
		WithEventBus(bus),
	)
	require.NoError(t, err)

	_, err = agent2.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, 1, analysisErrors)
	assert.Equal(t, []protocol.NodeID{"n1"}, historyNodeIDs(agent2.GetExecutionState().History))
}

func TestProvideUserChoice_OverridesEdge(t *testing.T) {
	p1 := testutils.NewScriptedProvider(answer("whatever"))
	p1.ProviderName = "p1"
	p2 := testutils.NewScriptedProvider(answer("skipped"))
	p2.ProviderName = "p2"

	agent, err := New(
		[]Node{reactNode("n1", "p1"), reactNode("n2", "p2")},
		[]Edge{{ID: "e1", From: "n1", To: "n2"}},
		registryWith(t, p1, p2),
	)
	require.NoError(t, err)

	// The unconditioned edge would traverse; a negative choice blocks it.
	agent.ProvideUserChoice("e1", "no")

	out, err := agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.NotContains(t, out, "skipped")
	assert.Equal(t, []protocol.NodeID{"n1"}, historyNodeIDs(agent.GetExecutionState().History))
}

func TestContextFromEdge_FeedsUpstreamHistory(t *testing.T) {
	p1 := testutils.NewScriptedProvider(answer("alpha-result"))
	p1.ProviderName = "p1"
	p2 := testutils.NewScriptedProvider(answer("beta"))
	p2.ProviderName = "p2"

	agent, err := New(
		[]Node{reactNode("a", "p1"), reactNode("b", "p2")},
		[]Edge{
			{ID: "e1", From: "a", To: "b", ContextFrom: []protocol.NodeID{"a"}},
		},
		registryWith(t, p1, p2),
	)
	require.NoError(t, err)

	_, err = agent.Invoke(context.Background(), "go")
	require.NoError(t, err)

	require.NotEmpty(t, p2.Prompts)
	assert.Contains(t, p2.Prompts[0], "alpha-result")
}

func TestApproval_ApproveAndReject(t *testing.T) {
	p := testutils.NewScriptedProvider(answer("needs approval"))
	p.ProviderName = "scripted"

	node := reactNode("n1", "scripted")
	node.Interaction = &UserInteraction{
		Mode:            ModeSingleReactCycle,
		RequireApproval: true,
	}

	agent, err := New([]Node{node}, nil, registryWith(t, p),
		WithTimeouts(time.Second, 2*time.Second))
	require.NoError(t, err)

	ch, err := agent.Stream(context.Background(), "go")
	require.NoError(t, err)

	requireInteraction(t, agent, "n1", InteractionApproval)
	require.NoError(t, agent.ProvideUserApproval("n1", true))

	out := drain(ch)
	assert.Contains(t, out, "needs approval")

	// Rejection fails the node.
	p2 := testutils.NewScriptedProvider(answer("rejected output"))
	p2.ProviderName = "scripted"
	agent2, err := New([]Node{node}, nil, registryWith(t, p2),
		WithTimeouts(time.Second, 2*time.Second))
	require.NoError(t, err)

	ch2, err := agent2.Stream(context.Background(), "go")
	require.NoError(t, err)

	requireInteraction(t, agent2, "n1", InteractionApproval)
	require.NoError(t, agent2.ProvideUserApproval("n1", false))

	out2 := drain(ch2)
	assert.Contains(t, out2, "rejected")
	assert.Contains(t, out2, "Error")
}

func TestApproval_TimeoutRejects(t *testing.T) {
	p := testutils.NewScriptedProvider(answer("stale"))
	p.ProviderName = "scripted"

	node := reactNode("n1", "scripted")
	node.Interaction = &UserInteraction{RequireApproval: true}

	agent, err := New([]Node{node}, nil, registryWith(t, p),
		WithTimeouts(50*time.Millisecond, 50*time.Millisecond))
	require.NoError(t, err)

	out, err := agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Contains(t, out, "Error")
	assert.Contains(t, out, "timed out")
}

func TestLowConfidence_UserAccepts(t *testing.T) {
	// Three hedges push confidence to 0.7, below the 0.9 threshold.
	p := testutils.NewScriptedProvider(answer("I think it could be X, but I'm not sure."))
	p.ProviderName = "scripted"

	node := reactNode("n1", "scripted")
	node.Interaction = &UserInteraction{ConfidenceThreshold: 0.9}

	bus := events.NewBus()
	var lowConfidence int
	bus.Subscribe(events.TopicNodeLowConfidence, func(events.Event) { lowConfidence++ })

	agent, err := New([]Node{node}, nil, registryWith(t, p),
		WithEventBus(bus),
		WithTimeouts(2*time.Second, 2*time.Second))
	require.NoError(t, err)

	ch, err := agent.Stream(context.Background(), "go")
	require.NoError(t, err)

	requireInteraction(t, agent, "n1", InteractionInput)
	require.NoError(t, agent.ProvideUserInput("n1", "accept"))

	out := drain(ch)
	assert.Contains(t, out, "could be X")
	assert.Equal(t, 1, lowConfidence)
	assert.Equal(t, 1, p.Calls())
}

func TestLowConfidence_RetryRerunsNode(t *testing.T) {
	p := testutils.NewScriptedProvider(
		answer("maybe this, not sure, possibly that"),
		answer("It is definitely X."),
	)
	p.ProviderName = "scripted"

	node := reactNode("n1", "scripted")
	node.Interaction = &UserInteraction{ConfidenceThreshold: 0.9}

	agent, err := New([]Node{node}, nil, registryWith(t, p),
		WithTimeouts(2*time.Second, 2*time.Second))
	require.NoError(t, err)

	ch, err := agent.Stream(context.Background(), "go")
	require.NoError(t, err)

	requireInteraction(t, agent, "n1", InteractionInput)
	require.NoError(t, agent.ProvideUserInput("n1", "retry"))

	out := drain(ch)
	assert.Contains(t, out, "definitely X")
	assert.Equal(t, 2, p.Calls())
}

func TestContinuousChat_TurnsUntilEnd(t *testing.T) {
	p := testutils.NewScriptedProvider(answer("first turn"), answer("second turn"))
	p.ProviderName = "scripted"

	node := reactNode("n1", "scripted")
	node.Interaction = &UserInteraction{Mode: ModeContinuousChat}

	agent, err := New([]Node{node}, nil, registryWith(t, p),
		WithTimeouts(2*time.Second, 2*time.Second))
	require.NoError(t, err)

	ch, err := agent.Stream(context.Background(), "hello")
	require.NoError(t, err)

	requireInteraction(t, agent, "n1", InteractionChat)
	require.NoError(t, agent.ProvideChatAction("n1", ChatContinue, "tell me more"))

	requireInteraction(t, agent, "n1", InteractionChat)
	require.NoError(t, agent.ProvideChatAction("n1", ChatEnd, ""))

	out := drain(ch)
	assert.Contains(t, out, "second turn")
	assert.Equal(t, 2, p.Calls())

	// Both sides of each turn are recorded.
	assert.Contains(t, p.Prompts[1], "tell me more")
}

func TestPauseBefore_BlocksUntilResume(t *testing.T) {
	p := testutils.NewScriptedProvider(answer("after pause"))
	p.ProviderName = "scripted"

	bus := events.NewBus()
	paused := make(chan events.Event, 1)
	bus.Subscribe(events.TopicNodePaused, func(e events.Event) {
		select {
		case paused <- e:
		default:
		}
	})

	agent, err := New(simpleNodesWithLLM("a"), nil, registryWith(t, p),
		WithEventBus(bus),
		WithPauseSettings(PauseSettings{Before: true}))
	require.NoError(t, err)

	ch, err := agent.Stream(context.Background(), "go")
	require.NoError(t, err)

	select {
	case <-paused:
	case <-time.After(2 * time.Second):
		t.Fatal("node never hit the pause barrier")
	}
	assert.Equal(t, StatePaused, agent.State())

	agent.Resume()
	out := drain(ch)
	assert.Contains(t, out, "after pause")
}

func TestAbort_CancelsRun(t *testing.T) {
	p := testutils.NewScriptedProvider(answer("unreached"))
	p.ProviderName = "scripted"

	agent, err := New(simpleNodesWithLLM("a"), nil, registryWith(t, p),
		WithPauseSettings(PauseSettings{Before: true}))
	require.NoError(t, err)

	ch, err := agent.Stream(context.Background(), "go")
	require.NoError(t, err)

	// Node is parked at the before barrier; abort tears the run down.
	require.Eventually(t, func() bool {
		return agent.State() == StatePaused
	}, 2*time.Second, 10*time.Millisecond)

	agent.Abort()
	drain(ch)
	assert.Equal(t, StatePaused, agent.State())
}

func TestUpdateGraphConfiguration_OnlyWhilePaused(t *testing.T) {
	p := testutils.NewScriptedProvider(answer("x"))
	p.ProviderName = "scripted"

	agent, err := New(simpleNodesWithLLM("a"), nil, registryWith(t, p))
	require.NoError(t, err)

	err = agent.UpdateGraphConfiguration(GraphPatch{})
	require.ErrorIs(t, err, ErrNotPaused)

	agent.Pause(nil)
	newNode := reactNode("b", "scripted")
	require.NoError(t, agent.UpdateGraphConfiguration(GraphPatch{
		Nodes: []Node{newNode},
		Edges: []Edge{{ID: "e1", From: "a", To: "b"}},
	}))
	agent.Resume()

	assert.Contains(t, agent.nodeOrder, protocol.NodeID("b"))

	// A patch that breaks the graph is rejected.
	agent.Pause(nil)
	err = agent.UpdateGraphConfiguration(GraphPatch{
		Edges: []Edge{{ID: "e2", From: "a", To: "ghost"}},
	})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	agent.Resume()
}

// A join edge added through a patch gets a live barrier: the target runs
// once after all predecessors, not once per traversal.
func TestUpdateGraphConfiguration_RebuildsJoinBarrier(t *testing.T) {
	pa := testutils.NewScriptedProvider(answer("a done"))
	pa.ProviderName = "pa"
	pb := testutils.NewScriptedProvider(answer("b done"))
	pb.ProviderName = "pb"
	pc := testutils.NewScriptedProvider(answer("c done"))
	pc.ProviderName = "pc"

	agent, err := New(
		[]Node{reactNode("a", "pa"), reactNode("c", "pc")},
		[]Edge{{ID: "eA", From: "a", To: "c"}},
		registryWith(t, pa, pb, pc),
	)
	require.NoError(t, err)

	agent.Pause(nil)
	require.NoError(t, agent.UpdateGraphConfiguration(GraphPatch{
		Nodes: []Node{reactNode("b", "pb")},
		Edges: []Edge{{ID: "eB", From: "b", To: "c", IsJoin: true, JoinPredecessors: []protocol.NodeID{"a", "b"}}},
	}))
	agent.Resume()

	_, err = agent.Invoke(context.Background(), "go")
	require.NoError(t, err)

	cRuns := 0
	for _, id := range historyNodeIDs(agent.GetExecutionState().History) {
		if id == "c" {
			cRuns++
		}
	}
	assert.Equal(t, 1, cRuns, "join target dispatched once")
	assert.Equal(t, 1, pc.Calls())
}

// Patching keeps the progress of joins whose predecessor set is unchanged
// and resets joins whose predecessor set changed.
func TestUpdateGraphConfiguration_JoinProgressAcrossPatch(t *testing.T) {
	edges := []Edge{
		{ID: "e1", From: "x", To: "j", IsJoin: true, JoinPredecessors: []protocol.NodeID{"x", "y"}},
	}
	tracker := buildJoinTracker(edges, nil)
	tracker["j"].Completed["x"] = true

	kept := buildJoinTracker(edges, tracker)
	assert.True(t, kept["j"].Completed["x"])

	edges[0].JoinPredecessors = []protocol.NodeID{"x", "y", "z"}
	reset := buildJoinTracker(edges, tracker)
	assert.Empty(t, reset["j"].Completed)
}

// Terminal nodes leave currentNodes; only in-flight work remains after a
// run, on both the completion and the failure path.
func TestInvoke_ClearsCurrentNodes(t *testing.T) {
	good := testutils.NewScriptedProvider(answer("done"))
	good.ProviderName = "good"
	bad := &testutils.ErrProvider{ProviderName: "bad"}

	n1 := reactNode("n1", "good")
	n1.Command = "_newmessage"
	n2 := reactNode("n2", "bad")
	n2.Command = "_newmessage"

	agent, err := New([]Node{n1, n2}, nil, registryWith(t, good, bad))
	require.NoError(t, err)

	_, err = agent.Invoke(context.Background(), "go")
	require.NoError(t, err)

	assert.Empty(t, agent.GetExecutionState().CurrentNodes)
}

func TestRestoreFromCheckpoint_AndContinue(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx := context.Background()

	snap := graphSnapshot{
		History: []HistoryEntry{
			{NodeID: "a", NodeName: "a", Output: "restored earlier"},
		},
		ActiveNodes:  []protocol.NodeID{"b"},
		CurrentInput: "resume-me",
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	id, err := store.Save(ctx, "convo", raw)
	require.NoError(t, err)

	p := testutils.NewScriptedProvider(answer("b resumed"))
	p.ProviderName = "scripted"

	agent, err := New(simpleNodesWithLLM("a", "b"),
		[]Edge{{ID: "e1", From: "a", To: "b"}},
		registryWith(t, p),
		WithConversationID("convo"),
		WithCheckpointStore(store))
	require.NoError(t, err)

	require.True(t, agent.RestoreFromCheckpoint(ctx, id))
	assert.Equal(t, StatePaused, agent.State())

	ch, err := agent.ContinueWithInput(ctx, "")
	require.NoError(t, err)

	out := drain(ch)
	assert.Contains(t, out, "b resumed")
	// Only the tail subgraph replays: node a is not re-executed.
	assert.Equal(t, 1, p.Calls())
	assert.Contains(t, p.Prompts[0], "resume-me")
}

func TestRestoreFromCheckpoint_UnknownIDFails(t *testing.T) {
	bus := events.NewBus()
	var restoreErrors int
	bus.Subscribe(events.TopicCheckpointRestoreError, func(events.Event) { restoreErrors++ })

	p := testutils.NewScriptedProvider(answer("x"))
	p.ProviderName = "scripted"

	agent, err := New(simpleNodesWithLLM("a"), nil, registryWith(t, p),
		WithEventBus(bus),
		WithCheckpointStore(checkpoint.NewMemoryStore()))
	require.NoError(t, err)

	assert.False(t, agent.RestoreFromCheckpoint(context.Background(), "nope"))
	assert.Equal(t, 1, restoreErrors)
}

func TestNodeError_DoesNotAbortSiblings(t *testing.T) {
	good := testutils.NewScriptedProvider(answer("sibling survived"))
	good.ProviderName = "good"
	bad := &testutils.ErrProvider{ProviderName: "bad"}

	n1 := reactNode("n1", "good")
	n1.Command = "_newmessage"
	n2 := reactNode("n2", "bad")
	n2.Command = "_newmessage"

	agent, err := New([]Node{n1, n2}, nil, registryWith(t, good, bad))
	require.NoError(t, err)

	out, err := agent.Invoke(context.Background(), "go")
	require.NoError(t, err)
	assert.Contains(t, out, "sibling survived")
	assert.Contains(t, out, "Error")
}

// requireInteraction polls until the node has the expected pending wait.
func requireInteraction(t *testing.T, agent *Agent, id protocol.NodeID, kind InteractionKind) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, pi := range agent.GetPendingUserInteractions() {
			if pi.NodeID == id && pi.Kind == kind {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func drain(ch <-chan string) string {
	var parts []string
	for chunk := range ch {
		parts = append(parts, chunk)
	}
	return strings.Join(parts, "\n")
}
