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

// Package react implements the reason-act loop: the agent alternates LLM
// thought generation with tool dispatch until the model produces a final
// answer, bounded by a configurable step budget.
package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vireo-ai/vireo/pkg/events"
	"github.com/vireo-ai/vireo/pkg/llms"
	"github.com/vireo-ai/vireo/pkg/observability"
	"github.com/vireo-ai/vireo/pkg/protocol"
	"github.com/vireo-ai/vireo/pkg/tool"
	"github.com/vireo-ai/vireo/pkg/toolkit"
)

// ErrMaxStepsExceeded reports a loop that ran out of steps without a final
// answer.
var ErrMaxStepsExceeded = errors.New("maximum reasoning steps exceeded")

// Agent runs the reason-act loop against one provider/model pair and one
// toolkit.
type Agent struct {
	name     string
	provider llms.Provider
	ref      llms.Ref
	toolkit  *toolkit.Toolkit
	cfg      Config
	bus      *events.Bus
	counter  *TokenCounter
}

// Option configures an Agent.
type Option func(*Agent)

// WithName sets the agent name used in events and spans.
func WithName(name string) Option {
	return func(a *Agent) { a.name = name }
}

// WithEventBus attaches the observability bus.
func WithEventBus(bus *events.Bus) Option {
	return func(a *Agent) { a.bus = bus }
}

// New creates a ReAct agent. The toolkit may be nil for pure-LLM agents;
// any action the model emits then fails as an unregistered tool.
func New(provider llms.Provider, ref llms.Ref, tk *toolkit.Toolkit, cfg Config, opts ...Option) *Agent {
	a := &Agent{
		name:     "react",
		provider: provider,
		ref:      ref,
		toolkit:  tk,
		cfg:      cfg.withDefaults(),
		counter:  NewTokenCounter(ref.Model),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// InvokeOptions carries the optional prompt-assembly inputs.
type InvokeOptions struct {
	// TokenTarget bounds the tokens spent on ContentSequence fragments;
	// zero admits everything.
	TokenTarget int

	// ContentSequence is preloaded content prepended to the prompt, in
	// order, until TokenTarget is exhausted.
	ContentSequence []string
}

// Invoke runs the loop to completion and returns the final answer.
func (a *Agent) Invoke(ctx context.Context, input string, history []protocol.Message, opts InvokeOptions) (string, error) {
	tracer := observability.GetTracer("vireo.react")
	ctx, span := tracer.Start(ctx, observability.SpanAgentInvoke,
		trace.WithAttributes(attribute.String(observability.AttrAgentName, a.name)),
	)
	defer span.End()

	var (
		answer string
		err    error
	)
	if a.cfg.SelfConsistency.Enabled {
		answer, err = a.invokeSelfConsistent(ctx, input, history, opts)
	} else {
		answer, _, err = a.rollout(ctx, input, history, opts, nil)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetStatus(codes.Ok, "final answer")
	return answer, nil
}

// invokeSelfConsistent runs independent rollouts and aggregates final
// answers by majority of a normalized key.
func (a *Agent) invokeSelfConsistent(ctx context.Context, input string, history []protocol.Message, opts InvokeOptions) (string, error) {
	samples := a.cfg.SelfConsistency.Samples

	answers := make([]string, samples)
	errs := make([]error, samples)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < samples; i++ {
		i := i
		g.Go(func() error {
			answer, _, err := a.rollout(gctx, input, history, opts, nil)
			answers[i], errs[i] = answer, err
			// Rollout failures do not cancel siblings; the vote runs
			// over whatever succeeded.
			return nil
		})
	}
	_ = g.Wait()

	votes := make(map[string]int)
	first := make(map[string]string)
	order := make([]string, 0, samples)
	for i, answer := range answers {
		if errs[i] != nil {
			continue
		}
		key := normalizeAnswer(answer)
		if _, seen := first[key]; !seen {
			first[key] = answer
			order = append(order, key)
		}
		votes[key]++
	}

	if len(order) == 0 {
		for _, err := range errs {
			if err != nil {
				return "", err
			}
		}
		return "", fmt.Errorf("self-consistency produced no answers")
	}

	best := order[0]
	for _, key := range order[1:] {
		if votes[key] > votes[best] {
			best = key
		}
	}
	return first[best], nil
}

// normalizeAnswer folds an answer to its vote key: lowercase, collapsed
// whitespace, trailing sentence punctuation stripped.
func normalizeAnswer(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".!?")
}

// rollout is one pass of the loop. onChunk, when non-nil, receives LLM
// chunks gated at structural boundaries plus observation lines.
func (a *Agent) rollout(ctx context.Context, input string, history []protocol.Message, opts InvokeOptions, onChunk func(string)) (string, int, error) {
	prompt := a.buildPrompt(input, history, opts)

	var transcript strings.Builder
	parseRetried := false

	for step := 1; step <= a.cfg.MaxSteps; {
		if err := ctx.Err(); err != nil {
			return "", step, err
		}

		output, err := a.generate(ctx, prompt+transcript.String(), onChunk)
		if err != nil {
			return "", step, err
		}

		parsed, perr := ParseStep(output)
		if perr != nil {
			a.publish(events.TopicReactParsingError, map[string]any{
				"step":  step,
				"error": perr.Error(),
			})
			if !parseRetried {
				parseRetried = true
				transcript.WriteString("\nYour last output could not be parsed. Reply with either an Action and a JSON Action Input, or a Final Answer.\n")
				continue
			}
			if len(a.cfg.StopSequences) > 0 && strings.TrimSpace(output) != "" {
				// Generation was cut by a stop sequence; the partial
				// text stands as the final answer.
				return strings.TrimSpace(output), step, nil
			}
			return "", step, tool.NewError(tool.ErrNameUnknown, "model output could not be parsed")
		}
		parseRetried = false

		a.publish(events.TopicReactStep, map[string]any{
			"step":    step,
			"thought": parsed.Thought,
			"action":  parsed.Action,
			"final":   parsed.IsFinal,
		})

		if parsed.IsFinal {
			return parsed.FinalAnswer, step, nil
		}

		observation := a.observe(ctx, parsed)
		if onChunk != nil {
			onChunk("\nObservation: " + observation + "\n")
		}

		transcript.WriteString("\n")
		if parsed.Thought != "" {
			transcript.WriteString("Thought: " + parsed.Thought + "\n")
		}
		transcript.WriteString("Action: " + parsed.Action + "\n")
		transcript.WriteString("Action Input: " + compactJSON(parsed.ActionInput) + "\n")
		transcript.WriteString("Observation: " + observation + "\n")
		step++
	}

	a.publish(events.TopicReactMaxStepsExceeded, map[string]any{
		"maxSteps": a.cfg.MaxSteps,
	})
	return "", a.cfg.MaxSteps, ErrMaxStepsExceeded
}

// generate performs one LLM call with observability around it.
func (a *Agent) generate(ctx context.Context, prompt string, onChunk func(string)) (string, error) {
	chatOpts := llms.ChatOptionsFor(a.ref)
	chatOpts.StopSequences = append([]string{"\nObservation:"}, a.cfg.StopSequences...)

	var gate *chunkGate
	if onChunk != nil {
		gate = newChunkGate(func(chunk string) {
			a.publish(events.TopicLLMStreamingChunk, map[string]any{"chunk": chunk})
			onChunk(chunk)
		})
		chatOpts.OnChunk = gate.feed
	}

	a.publish(events.TopicLLMInvocationStart, map[string]any{
		"provider": a.ref.Provider,
		"model":    a.ref.Model,
	})

	start := time.Now()
	resp, err := a.provider.Chat(ctx, []protocol.Message{
		{Role: protocol.RoleUser, Content: prompt},
	}, chatOpts)
	duration := time.Since(start)

	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		var in, out int
		if resp != nil && resp.Usage != nil {
			in, out = resp.Usage.InputTokens, resp.Usage.OutputTokens
		}
		metrics.RecordLLMCall(ctx, a.ref.Provider, a.ref.Model, duration, in, out, err)
	}

	if err != nil {
		return "", fmt.Errorf("llm call failed: %w", err)
	}
	if gate != nil {
		gate.finish()
	}

	a.publish(events.TopicLLMInvocationComplete, map[string]any{
		"provider":   a.ref.Provider,
		"model":      a.ref.Model,
		"durationMs": duration.Milliseconds(),
	})
	return resp.Text, nil
}

// observe dispatches the parsed action and renders the result as an
// observation string. Tool failures become observations, never loop
// terminations.
func (a *Agent) observe(ctx context.Context, parsed Step) string {
	if a.toolkit == nil {
		return fmt.Sprintf("Error: no tools are available (requested '%s')", parsed.Action)
	}

	results, err := a.toolkit.ExecuteCalls(ctx, []tool.Call{
		{Name: parsed.Action, Args: parsed.ActionInput},
	})
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if len(results) == 0 {
		return "Error: tool produced no result"
	}

	result := results[0]
	if !result.Success() {
		obs := fmt.Sprintf("Error (%s): %s", result.Err.Name, result.Err.Message)
		if result.Err.Guidance != "" {
			obs += " — " + result.Err.Guidance
		}
		return obs
	}

	switch out := result.Output.(type) {
	case string:
		return out
	default:
		return compactJSON(out)
	}
}

// buildPrompt binds the template and prepends the token-budgeted content
// sequence.
func (a *Agent) buildPrompt(input string, history []protocol.Message, opts InvokeOptions) string {
	var tools string
	if a.toolkit != nil {
		tools = a.toolkit.PreparePromptPayload()
	}
	if tools == "" {
		tools = "(none)"
	}

	prompt := strings.NewReplacer(
		"{input}", input,
		"{history}", renderHistory(history),
		"{tools}", tools,
	).Replace(a.cfg.PromptTemplate)

	if len(opts.ContentSequence) > 0 {
		fitted := a.counter.FitContent(opts.ContentSequence, opts.TokenTarget)
		if len(fitted) > 0 {
			prompt = "Context:\n" + strings.Join(fitted, "\n\n") + "\n\n" + prompt
		}
	}
	return prompt
}

func renderHistory(history []protocol.Message) string {
	if len(history) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for _, msg := range history {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Agent) publish(topic events.Topic, payload map[string]any) {
	a.bus.Publish(topic, a.name, payload)
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
