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
	"encoding/json"
	"strings"
)

// PreparePromptPayload renders the registered tools as a prompt block:
// per tool, the sanitized name and description followed by the JSON of
// its input/output schemas and invocation examples, tools separated by
// "---". Returns the empty string when no tools are registered.
func (t *Toolkit) PreparePromptPayload() string {
	entries := t.tools.List()
	if len(entries) == 0 {
		return ""
	}

	sections := make([]string, 0, len(entries))
	for _, entry := range entries {
		def := entry.Definition

		var b strings.Builder
		b.WriteString("Tool: ")
		b.WriteString(sanitize(def.Name))
		b.WriteString("\n")

		if def.Description != "" {
			b.WriteString("Description: ")
			b.WriteString(sanitize(def.Description))
			b.WriteString("\n")
		}
		if def.UseCase != "" {
			b.WriteString("Use case: ")
			b.WriteString(sanitize(def.UseCase))
			b.WriteString("\n")
		}

		if len(def.InputSchema) > 0 {
			b.WriteString("Input schema:\n")
			b.WriteString(indentJSON(def.InputSchema))
			b.WriteString("\n")
		}
		if len(def.OutputSchema) > 0 {
			b.WriteString("Output schema:\n")
			b.WriteString(indentJSON(def.OutputSchema))
			b.WriteString("\n")
		}
		if len(def.InvocationExamples) > 0 {
			b.WriteString("Examples:\n")
			b.WriteString(indentJSON(def.InvocationExamples))
			b.WriteString("\n")
		}

		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	return strings.Join(sections, "\n---\n")
}

// sanitize strips control characters and prompt-breaking separators from
// tool-provided text.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "---", " ")
	return strings.TrimSpace(s)
}

func indentJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}
