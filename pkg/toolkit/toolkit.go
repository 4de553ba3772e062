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

// Package toolkit implements the tool registry and dispatcher: typed tools
// are registered by unique name, invoked in serial or parallel batches,
// gated by a per-call approval callback, and tracked through a per-tool
// failure counter that pauses for re-approval past a threshold.
package toolkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/vireo-ai/vireo/pkg/events"
	"github.com/vireo-ai/vireo/pkg/registry"
	"github.com/vireo-ai/vireo/pkg/tool"
)

// DefaultPauseThreshold is the failure count at which the toolkit pauses
// for re-approval before returning another failure.
const DefaultPauseThreshold = 2

// Entry is one registered tool with its precompiled input validator.
type Entry struct {
	Tool       tool.Tool
	Definition tool.Definition
	Validator  *tool.Validator
}

// ToolkitError is the structured error for registry and dispatch failures.
type ToolkitError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *ToolkitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *ToolkitError) Unwrap() error {
	return e.Err
}

// NewToolkitError creates a ToolkitError.
func NewToolkitError(component, action, message string, err error) *ToolkitError {
	return &ToolkitError{Component: component, Action: action, Message: message, Err: err}
}

// Approval is the outcome of an approval callback.
type Approval struct {
	Approved bool

	// ModifiedArgs, when non-nil, replaces the call's arguments.
	ModifiedArgs map[string]any
}

// ApprovalCallback decides whether a call proceeds. It receives the tool's
// current failure count so callers can tighten policy for misbehaving
// tools. It is also invoked as a pause-for-acknowledgement when the
// failure count reaches the pause threshold.
type ApprovalCallback func(ctx context.Context, call tool.Call, failureCount int) Approval

// Toolkit is the registry + dispatcher.
type Toolkit struct {
	tools *registry.BaseRegistry[Entry]

	mu            sync.Mutex
	failureCounts map[string]int

	approval       ApprovalCallback
	pauseThreshold int
	bus            *events.Bus
}

// Option configures a Toolkit.
type Option func(*Toolkit)

// WithApprovalCallback installs the per-call approval gate.
func WithApprovalCallback(cb ApprovalCallback) Option {
	return func(t *Toolkit) { t.approval = cb }
}

// WithPauseThreshold overrides the failure count that triggers
// pause-for-re-approval.
func WithPauseThreshold(n int) Option {
	return func(t *Toolkit) {
		if n > 0 {
			t.pauseThreshold = n
		}
	}
}

// WithEventBus attaches the observability bus.
func WithEventBus(bus *events.Bus) Option {
	return func(t *Toolkit) { t.bus = bus }
}

// New creates an empty Toolkit.
func New(opts ...Option) *Toolkit {
	t := &Toolkit{
		tools:          registry.NewBaseRegistry[Entry](),
		failureCounts:  make(map[string]int),
		pauseThreshold: DefaultPauseThreshold,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds a tool under its definition name. The name must be unique;
// the input schema is compiled eagerly so malformed tools fail at
// registration, not at dispatch. Retrieval config on non-retrievers is
// dropped.
func (t *Toolkit) Register(tl tool.Tool) error {
	def := tl.Definition()
	if def.Name == "" {
		return NewToolkitError("Toolkit", "Register", "tool name cannot be empty", nil)
	}

	if def.Kind != tool.KindRetriever {
		def.RetrievalDefaults = nil
	}

	validator, err := tool.CompileSchema(def.InputSchema)
	if err != nil {
		return NewToolkitError("Toolkit", "Register",
			fmt.Sprintf("input schema for tool '%s' does not compile", def.Name), err)
	}

	entry := Entry{Tool: tl, Definition: def, Validator: validator}
	if err := t.tools.Register(def.Name, entry); err != nil {
		return NewToolkitError("Toolkit", "Register",
			fmt.Sprintf("failed to register tool '%s'", def.Name), err)
	}

	t.mu.Lock()
	t.failureCounts[def.Name] = 0
	t.mu.Unlock()

	return nil
}

// Unregister removes a tool and its failure state, returning the toolkit
// to its pre-registration state for that name.
func (t *Toolkit) Unregister(name string) error {
	if err := t.tools.Remove(name); err != nil {
		return NewToolkitError("Toolkit", "Unregister",
			fmt.Sprintf("failed to remove tool '%s'", name), err)
	}

	t.mu.Lock()
	delete(t.failureCounts, name)
	t.mu.Unlock()

	return nil
}

// Get returns a registered tool entry.
func (t *Toolkit) Get(name string) (Entry, bool) {
	return t.tools.Get(name)
}

// Names returns the registered tool names in sorted order.
func (t *Toolkit) Names() []string {
	return t.tools.Names()
}

// Count returns the number of registered tools.
func (t *Toolkit) Count() int {
	return t.tools.Count()
}

// List returns all entries in name order.
func (t *Toolkit) List() []Entry {
	return t.tools.List()
}

// FailureCount returns the current failure count for a tool name.
func (t *Toolkit) FailureCount(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failureCounts[name]
}

func (t *Toolkit) resetFailures(name string) {
	t.mu.Lock()
	t.failureCounts[name] = 0
	t.mu.Unlock()
}

// recordFailures bumps the failure count by the number of failed attempts
// and reports the new total.
func (t *Toolkit) recordFailures(name string, n int) int {
	if n < 1 {
		n = 1
	}
	t.mu.Lock()
	t.failureCounts[name] += n
	count := t.failureCounts[name]
	t.mu.Unlock()
	return count
}
