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

package toolkit

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vireo-ai/vireo/pkg/events"
	"github.com/vireo-ai/vireo/pkg/observability"
	"github.com/vireo-ai/vireo/pkg/tool"
)

// parallelGroup collects the calls for one parallel tool within a batch.
type parallelGroup struct {
	name  string
	calls []tool.Call
}

// ExecuteCalls dispatches a batch. Calls to serial tools run one at a time
// in submission order; calls to parallel tools are grouped by name, each
// group's arguments concatenated into a single combined dispatch. The
// result slice holds one Result per serial call followed by one Result per
// parallel group, groups ordered by first occurrence.
//
// An unknown tool name fails the whole batch before anything runs.
func (t *Toolkit) ExecuteCalls(ctx context.Context, calls []tool.Call) ([]tool.Result, error) {
	var (
		serial     []tool.Call
		groups     []*parallelGroup
		groupIndex = make(map[string]*parallelGroup)
	)

	for _, call := range calls {
		entry, ok := t.tools.Get(call.Name)
		if !ok {
			return nil, NewToolkitError("Toolkit", "ExecuteCalls",
				"unregistered tool '"+call.Name+"'",
				tool.NewError(tool.ErrNameUnregistered, "tool '"+call.Name+"' is not registered"))
		}

		if entry.Definition.Parallel {
			group, exists := groupIndex[call.Name]
			if !exists {
				group = &parallelGroup{name: call.Name}
				groupIndex[call.Name] = group
				groups = append(groups, group)
			}
			group.calls = append(group.calls, call)
			continue
		}
		serial = append(serial, call)
	}

	results := make([]tool.Result, 0, len(serial)+len(groups))
	for _, call := range serial {
		results = append(results, t.executeCall(ctx, call))
	}

	groupResults := make([]tool.Result, len(groups))
	var wg sync.WaitGroup
	for i, group := range groups {
		wg.Add(1)
		go func(i int, group *parallelGroup) {
			defer wg.Done()
			groupResults[i] = t.executeGroup(ctx, group)
		}(i, group)
	}
	wg.Wait()

	results = append(results, groupResults...)
	return results, nil
}

// executeGroup collapses a parallel group into one combined call.
func (t *Toolkit) executeGroup(ctx context.Context, group *parallelGroup) tool.Result {
	entry, _ := t.tools.Get(group.name)

	argsList := make([]map[string]any, len(group.calls))
	for i, call := range group.calls {
		argsList[i] = call.Args
	}

	var combined map[string]any
	if entry.Definition.Concatenate != nil {
		combined = entry.Definition.Concatenate(argsList)
	} else {
		combined = mergeArgs(argsList)
	}

	return t.executeCall(ctx, tool.Call{Name: group.name, Args: combined})
}

// mergeArgs is the fallback concatenation for parallel tools that declare
// none: later maps override earlier keys.
func mergeArgs(argsList []map[string]any) map[string]any {
	out := make(map[string]any)
	for _, args := range argsList {
		for k, v := range args {
			out[k] = v
		}
	}
	return out
}

// executeCall runs the single-call flow: validate, approve, dispatch,
// account failures.
func (t *Toolkit) executeCall(ctx context.Context, call tool.Call) tool.Result {
	startTime := time.Now()

	tracer := observability.GetTracer("vireo.toolkit")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, call.Name),
		),
	)
	defer span.End()

	entry, ok := t.tools.Get(call.Name)
	if !ok {
		err := tool.NewError(tool.ErrNameUnregistered, "tool '"+call.Name+"' is not registered")
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool not found")
		return failureResult(call, err, startTime)
	}

	// Validation is fatal and mutates no state: the failure counter does
	// not move for malformed input.
	if err := entry.Validator.Validate(call.Args); err != nil {
		t.bus.Publish(events.TopicToolValidationFailed, call.Name, map[string]any{
			"tool":  call.Name,
			"error": err.Error(),
		})
		span.SetStatus(codes.Error, "validation failed")
		return failureResult(call, &tool.Error{
			Name:    tool.ErrNameValidation,
			Message: "Input does not match schema",
		}, startTime)
	}

	if t.approval != nil {
		approval := t.approval(ctx, call, t.FailureCount(call.Name))
		if !approval.Approved {
			span.SetStatus(codes.Error, "rejected by approval callback")
			return failureResult(call, &tool.Error{
				Name:    tool.ErrNameUserRejected,
				Message: "tool call rejected",
			}, startTime)
		}
		if approval.ModifiedArgs != nil {
			call.Args = approval.ModifiedArgs
		}
	}

	result := entry.Tool.Execute(ctx, call)

	metrics := observability.GetGlobalMetrics()
	duration := time.Since(startTime)

	if result.Success() {
		t.resetFailures(call.Name)
		span.SetStatus(codes.Ok, "success")
		if metrics != nil {
			metrics.RecordToolExecution(ctx, call.Name, duration, nil)
		}
	} else {
		count := t.recordFailures(call.Name, result.Attempts)
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Message)
		if metrics != nil {
			metrics.RecordToolExecution(ctx, call.Name, duration, result.Err)
		}

		if count >= t.pauseThreshold && t.approval != nil {
			// Pause-for-re-approval: the callback acknowledges the
			// accumulated failures before the failure is surfaced.
			t.bus.Publish(events.TopicToolPausedForApproval, call.Name, map[string]any{
				"tool":         call.Name,
				"failureCount": count,
			})
			t.approval(ctx, call, count)
		}
	}

	span.SetAttributes(
		attribute.Bool("tool.success", result.Success()),
		attribute.Int(observability.AttrToolAttempts, result.Attempts),
		attribute.Int64("tool.duration_ms", duration.Milliseconds()),
	)

	return result
}

func failureResult(call tool.Call, err *tool.Error, start time.Time) tool.Result {
	return tool.Result{
		Call:      call,
		Err:       err,
		StartTime: start,
		EndTime:   time.Now(),
	}
}
