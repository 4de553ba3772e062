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

// Package tool defines the tool contract: immutable metadata, the typed
// call/result envelope, and the shared execution policy (schema validation,
// pause hook, retries) that every tool runs under.
//
// Concrete tool bodies are plain functions. A tool is assembled by wrapping
// a Handler with New (actors) or NewRetriever (retrievers); the wrapper owns
// schema compilation and the retry loop so bodies stay free of policy.
package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/vireo-ai/vireo/pkg/protocol"
)

// Kind distinguishes side-effecting tools from retrieval tools.
type Kind string

const (
	// KindActor performs a side effect or computation.
	KindActor Kind = "actor"

	// KindRetriever returns content under a retrieval configuration.
	KindRetriever Kind = "retriever"
)

// Canonical error names. These are the spec-level error kinds surfaced in
// Result envelopes and matched against a tool's error policy.
const (
	ErrNameValidation   = "ValidationError"
	ErrNameUserRejected = "UserRejected"
	ErrNameUnknown      = "UnknownError"
	ErrNameUnregistered = "UnregisteredTool"
	ErrNameCanceled     = "Canceled"
)

// Guidance describes how a named error should be handled.
type Guidance struct {
	// Guidance is advisory text surfaced to the caller (and ultimately
	// the LLM) alongside the failure.
	Guidance string `json:"guidance,omitempty" yaml:"guidance,omitempty"`

	// Retryable marks the error as consumable by the retry loop.
	Retryable bool `json:"retryable" yaml:"retryable"`
}

// ErrorPolicy maps error names to handling guidance.
type ErrorPolicy map[string]Guidance

// RetrievalConfig carries the retrieval knobs applied to retriever tools.
type RetrievalConfig struct {
	Similarity           float64 `json:"similarity" yaml:"similarity"`
	SimilarityModifiable bool    `json:"similarityModifiable" yaml:"similarityModifiable"`
	TopK                 int     `json:"topK" yaml:"topK"`
	TopKModifiable       bool    `json:"topKModifiable" yaml:"topKModifiable"`
	Optimize             bool    `json:"optimize" yaml:"optimize"`
}

// WithField returns an updated copy of the config; the receiver is never
// mutated. Unknown keys are an error.
func (c RetrievalConfig) WithField(key string, value any) (RetrievalConfig, error) {
	out := c
	switch key {
	case "similarity":
		v, ok := toFloat(value)
		if !ok {
			return c, fmt.Errorf("similarity must be a number, got %T", value)
		}
		out.Similarity = v
	case "similarityModifiable":
		v, ok := value.(bool)
		if !ok {
			return c, fmt.Errorf("similarityModifiable must be a bool, got %T", value)
		}
		out.SimilarityModifiable = v
	case "topK":
		v, ok := toFloat(value)
		if !ok {
			return c, fmt.Errorf("topK must be a number, got %T", value)
		}
		out.TopK = int(v)
	case "topKModifiable":
		v, ok := value.(bool)
		if !ok {
			return c, fmt.Errorf("topKModifiable must be a bool, got %T", value)
		}
		out.TopKModifiable = v
	case "optimize":
		v, ok := value.(bool)
		if !ok {
			return c, fmt.Errorf("optimize must be a bool, got %T", value)
		}
		out.Optimize = v
	default:
		return c, fmt.Errorf("unknown retrieval config field '%s'", key)
	}
	return out, nil
}

// AsMap renders the config as a plain JSON-shaped map.
func (c RetrievalConfig) AsMap() map[string]any {
	return map[string]any{
		"similarity":           c.Similarity,
		"similarityModifiable": c.SimilarityModifiable,
		"topK":                 c.TopK,
		"topKModifiable":       c.TopKModifiable,
		"optimize":             c.Optimize,
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// ConcatenateFunc combines the argument maps of a parallel group into one
// combined argument map for a single dispatch.
type ConcatenateFunc func(argsList []map[string]any) map[string]any

// Definition is the immutable tool metadata record.
type Definition struct {
	ID          protocol.ToolID `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	UseCase     string          `json:"useCase,omitempty" yaml:"useCase,omitempty"`
	Kind        Kind            `json:"kind" yaml:"kind"`

	// InputSchema is a JSON Schema document; it is compiled once per tool
	// instance on first use.
	InputSchema  map[string]any `json:"inputSchema" yaml:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`

	InvocationExamples []map[string]any `json:"invocationExamples,omitempty" yaml:"invocationExamples,omitempty"`

	// Retries is the number of additional attempts after the first.
	Retries     int         `json:"retries" yaml:"retries"`
	ErrorPolicy ErrorPolicy `json:"errorPolicy,omitempty" yaml:"errorPolicy,omitempty"`

	// Parallel marks calls to this tool as groupable: a batch of calls is
	// collapsed through Concatenate into a single dispatch.
	Parallel    bool            `json:"parallel" yaml:"parallel"`
	Concatenate ConcatenateFunc `json:"-" yaml:"-"`

	MaxIterations   int  `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"`
	PauseBeforeUse  bool `json:"pauseBeforeUse" yaml:"pauseBeforeUse"`
	UserModifyQuery bool `json:"userModifyQuery" yaml:"userModifyQuery"`

	// RetrievalDefaults applies to retrievers only; it is dropped at
	// registration for actors.
	RetrievalDefaults *RetrievalConfig `json:"defaultRetrievalConfig,omitempty" yaml:"defaultRetrievalConfig,omitempty"`
}

// Call is a single tool invocation request.
type Call struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Error is a structured tool failure. It implements error so bodies can
// return named errors that the retry loop matches against the error policy.
type Error struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	Guidance  string `json:"guidance,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// NewError creates a named tool error.
func NewError(name, message string) *Error {
	return &Error{Name: name, Message: message}
}

// Result is the terminal outcome of a tool call: exactly one Result is
// produced per Execute, success or failure.
type Result struct {
	Call      Call      `json:"call"`
	Output    any       `json:"output,omitempty"`
	Err       *Error    `json:"error,omitempty"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Attempts  int       `json:"attempts"`
}

// Success reports whether the call succeeded.
func (r Result) Success() bool {
	return r.Err == nil
}

// DurationMs is the wall-clock execution time in milliseconds.
func (r Result) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// Handler is a concrete tool body.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// PauseHook runs before any attempt when the tool declares PauseBeforeUse.
// Returning an error aborts the call with a UserRejected failure.
type PauseHook func(ctx context.Context, call Call) error

// Tool is the contract every tool satisfies.
type Tool interface {
	Definition() Definition

	Execute(ctx context.Context, call Call) Result
}
