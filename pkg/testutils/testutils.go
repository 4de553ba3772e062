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

// Package testutils provides scripted collaborators for tests: an LLM
// provider that replays canned responses and ready-made tools.
package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/vireo-ai/vireo/pkg/llms"
	"github.com/vireo-ai/vireo/pkg/protocol"
	"github.com/vireo-ai/vireo/pkg/tool"
)

// ScriptedProvider replays a fixed sequence of responses, one per Chat
// call. When the script runs out it repeats the last response. A Respond
// function, when set, takes precedence over the script.
type ScriptedProvider struct {
	ProviderName string
	Script       []string

	// Respond computes the response from the prompt; overrides Script.
	Respond func(messages []protocol.Message) string

	// ChunkSize splits streamed responses; zero streams the whole
	// response as one chunk.
	ChunkSize int

	mu    sync.Mutex
	calls int

	// Prompts records every prompt seen, for assertions.
	Prompts []string
}

// NewScriptedProvider creates a provider named "scripted" with the given
// response sequence.
func NewScriptedProvider(script ...string) *ScriptedProvider {
	return &ScriptedProvider{ProviderName: "scripted", Script: script}
}

func (p *ScriptedProvider) Name() string {
	if p.ProviderName == "" {
		return "scripted"
	}
	return p.ProviderName
}

// Calls returns how many Chat calls have been made.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *ScriptedProvider) Chat(ctx context.Context, messages []protocol.Message, opts llms.ChatOptions) (*llms.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	var prompt string
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	p.Prompts = append(p.Prompts, prompt)

	var text string
	switch {
	case p.Respond != nil:
		text = p.Respond(messages)
	case len(p.Script) == 0:
		text = ""
	case p.calls < len(p.Script):
		text = p.Script[p.calls]
	default:
		text = p.Script[len(p.Script)-1]
	}
	p.calls++
	chunkSize := p.ChunkSize
	p.mu.Unlock()

	if opts.OnChunk != nil {
		if chunkSize <= 0 {
			chunkSize = len(text)
		}
		for i := 0; i < len(text); i += chunkSize {
			end := i + chunkSize
			if end > len(text) {
				end = len(text)
			}
			opts.OnChunk(text[i:end])
		}
	}

	return &llms.Response{
		Text:  text,
		Usage: &llms.Usage{InputTokens: len(prompt) / 4, OutputTokens: len(text) / 4},
	}, nil
}

// ErrProvider fails every Chat call with the configured error.
type ErrProvider struct {
	ProviderName string
	Err          error
}

func (p *ErrProvider) Name() string {
	if p.ProviderName == "" {
		return "failing"
	}
	return p.ProviderName
}

func (p *ErrProvider) Chat(ctx context.Context, messages []protocol.Message, opts llms.ChatOptions) (*llms.Response, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return nil, fmt.Errorf("provider unavailable")
}

// EchoTool returns a tool that echoes its "text" argument.
func EchoTool(name string) (tool.Tool, error) {
	return tool.New(tool.Definition{
		Name:        name,
		Description: "Echoes the given text",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		text, _ := args["text"].(string)
		return text, nil
	})
}

// FlakyTool fails with a retryable error until failures attempts have been
// consumed, then returns output.
func FlakyTool(name string, failures int, output any) (tool.Tool, error) {
	remaining := failures
	return tool.New(tool.Definition{
		Name:        name,
		Retries:     failures,
		ErrorPolicy: tool.ErrorPolicy{"Transient": {Retryable: true}},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		if remaining > 0 {
			remaining--
			return nil, tool.NewError("Transient", "transient failure")
		}
		return output, nil
	})
}
