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

package tool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vireo-ai/vireo/pkg/events"
)

// Base wraps a Handler with the shared execution policy: lazy schema
// compilation, input validation, the pre-use pause hook and the retry loop.
// It produces exactly one Result per call.
type Base struct {
	def       Definition
	handler   Handler
	pauseHook PauseHook
	bus       *events.Bus

	compileOnce sync.Once
	validator   *Validator
	compileErr  error
}

// Option configures a Base tool.
type Option func(*Base)

// WithPauseHook installs the hook invoked before any attempt when the tool
// declares PauseBeforeUse.
func WithPauseHook(hook PauseHook) Option {
	return func(b *Base) { b.pauseHook = hook }
}

// WithEventBus attaches a bus for retry/pause events.
func WithEventBus(bus *events.Bus) Option {
	return func(b *Base) { b.bus = bus }
}

// New assembles an actor tool from metadata and a body. Retrieval defaults
// on an actor definition are dropped.
func New(def Definition, handler Handler, opts ...Option) (*Base, error) {
	if def.Name == "" {
		return nil, errors.New("tool name cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("tool handler cannot be nil")
	}
	if def.Kind == "" {
		def.Kind = KindActor
	}
	if def.Kind == KindActor {
		def.RetrievalDefaults = nil
	}
	if def.Retries < 0 {
		def.Retries = 0
	}

	b := &Base{def: def, handler: handler}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Definition returns the tool metadata.
func (b *Base) Definition() Definition {
	return b.def
}

// compile compiles the input schema at most once per tool instance.
func (b *Base) compile() (*Validator, error) {
	b.compileOnce.Do(func() {
		b.validator, b.compileErr = CompileSchema(b.def.InputSchema)
	})
	return b.validator, b.compileErr
}

// Execute runs the call through the full policy. The returned Result is
// terminal: schema failures, rejections and exhausted retries all fold into
// a Failure envelope rather than a Go error.
func (b *Base) Execute(ctx context.Context, call Call) Result {
	start := time.Now()

	fail := func(err *Error, attempts int) Result {
		return Result{
			Call:      call,
			Err:       err,
			StartTime: start,
			EndTime:   time.Now(),
			Attempts:  attempts,
		}
	}

	validator, err := b.compile()
	if err != nil {
		return fail(&Error{
			Name:    ErrNameValidation,
			Message: "input schema does not compile: " + err.Error(),
		}, 0)
	}

	if err := validator.Validate(call.Args); err != nil {
		b.bus.Publish(events.TopicToolValidationFailed, b.def.Name, map[string]any{
			"tool":  b.def.Name,
			"error": err.Error(),
		})
		return fail(&Error{
			Name:    ErrNameValidation,
			Message: "Input does not match schema",
		}, 0)
	}

	if b.def.PauseBeforeUse && b.pauseHook != nil {
		b.bus.Publish(events.TopicToolPausedForApproval, b.def.Name, map[string]any{
			"tool": b.def.Name,
		})
		if err := b.pauseHook(ctx, call); err != nil {
			return fail(&Error{
				Name:    ErrNameUserRejected,
				Message: err.Error(),
			}, 0)
		}
	}

	args := b.prepareArgs(call.Args)

	for attempt := 0; attempt <= b.def.Retries; attempt++ {
		if ctx.Err() != nil {
			return fail(&Error{
				Name:    ErrNameCanceled,
				Message: ctx.Err().Error(),
			}, attempt)
		}

		output, err := b.handler(ctx, args)
		if err == nil {
			return Result{
				Call:      call,
				Output:    output,
				StartTime: start,
				EndTime:   time.Now(),
				Attempts:  attempt + 1,
			}
		}

		toolErr := asToolError(err)
		guidance, known := b.def.ErrorPolicy[toolErr.Name]
		if known {
			toolErr.Guidance = guidance.Guidance
		}

		if !known || !guidance.Retryable || attempt == b.def.Retries {
			toolErr.Retryable = false
			return fail(toolErr, attempt+1)
		}

		b.bus.Publish(events.TopicToolRetry, b.def.Name, map[string]any{
			"tool":    b.def.Name,
			"attempt": attempt + 1,
			"error":   toolErr.Name,
		})
	}

	// Unreachable when Retries >= 0; kept as the terminal safety net.
	return fail(&Error{
		Name:    ErrNameUnknown,
		Message: "Exceeded retry limit",
	}, b.def.Retries+1)
}

// prepareArgs gives retrievers their effective retrieval config; actors get
// the args untouched.
func (b *Base) prepareArgs(args map[string]any) map[string]any {
	if b.def.Kind != KindRetriever || b.def.RetrievalDefaults == nil {
		return args
	}

	effective := *b.def.RetrievalDefaults
	if override, ok := args["ragConfig"].(map[string]any); ok {
		for key, value := range override {
			if merged, err := effective.WithField(key, value); err == nil {
				effective = merged
			}
		}
	}

	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	out["ragConfig"] = effective.AsMap()
	return out
}

// asToolError normalizes a handler error to a structured tool error.
// Unnamed errors surface as UnknownError.
func asToolError(err error) *Error {
	var toolErr *Error
	if errors.As(err, &toolErr) {
		// Copy so policy lookups never mutate the handler's value.
		cp := *toolErr
		return &cp
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Name: ErrNameCanceled, Message: err.Error()}
	}
	return &Error{Name: ErrNameUnknown, Message: err.Error()}
}
