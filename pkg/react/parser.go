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

package react

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	markerThought     = "Thought:"
	markerAction      = "Action:"
	markerActionInput = "Action Input:"
	markerFinalAnswer = "Final Answer:"
	markerObservation = "Observation:"
)

// Step is one parsed LLM turn: either a tool action or a final answer.
type Step struct {
	Thought     string
	Action      string
	ActionInput map[string]any
	FinalAnswer string
	IsFinal     bool
}

// ParseError reports an LLM output that fits neither shape.
type ParseError struct {
	Output string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable model output: %s", e.Reason)
}

// ParseStep interprets raw LLM output. A "Final Answer:" marker wins over
// any action in the same output; otherwise an "Action:" line with a JSON
// "Action Input:" is required.
func ParseStep(output string) (Step, error) {
	step := Step{Thought: extractSection(output, markerThought, markerAction, markerFinalAnswer)}

	if idx := indexOfMarker(output, markerFinalAnswer); idx >= 0 {
		answer := output[idx+len(markerFinalAnswer):]
		if stop := indexOfMarker(answer, markerObservation); stop >= 0 {
			answer = answer[:stop]
		}
		step.IsFinal = true
		step.FinalAnswer = strings.TrimSpace(answer)
		return step, nil
	}

	action := extractSection(output, markerAction, markerActionInput, markerObservation)
	if action == "" {
		return Step{}, &ParseError{Output: output, Reason: "no Action or Final Answer marker"}
	}
	step.Action = firstLine(action)

	rawInput := extractSection(output, markerActionInput, markerObservation, markerThought)
	args, err := parseActionInput(rawInput)
	if err != nil {
		return Step{}, &ParseError{Output: output, Reason: err.Error()}
	}
	step.ActionInput = args
	return step, nil
}

// parseActionInput decodes the JSON object after "Action Input:". A missing
// section is treated as empty arguments; malformed JSON is a parse error.
func parseActionInput(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	// Models often fence the JSON or append trailing prose; take the first
	// balanced object.
	if obj := firstJSONObject(raw); obj != "" {
		raw = obj
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("Action Input is not a JSON object: %w", err)
	}
	return args, nil
}

// extractSection returns the text between marker and the nearest of the
// stop markers (or end of string), trimmed. Empty when marker is absent.
func extractSection(s, marker string, stops ...string) string {
	idx := indexOfMarker(s, marker)
	if idx < 0 {
		return ""
	}
	section := s[idx+len(marker):]

	end := len(section)
	for _, stop := range stops {
		if i := indexOfMarker(section, stop); i >= 0 && i < end {
			end = i
		}
	}
	return strings.TrimSpace(section[:end])
}

// indexOfMarker finds a marker at the start of a line (leading whitespace
// allowed), so the words "action" or "thought" inside prose do not trigger.
func indexOfMarker(s, marker string) int {
	offset := 0
	for {
		i := strings.Index(s[offset:], marker)
		if i < 0 {
			return -1
		}
		abs := offset + i
		if atLineStart(s, abs) {
			return abs
		}
		offset = abs + len(marker)
	}
}

func atLineStart(s string, idx int) bool {
	for i := idx - 1; i >= 0; i-- {
		switch s[i] {
		case ' ', '\t':
			continue
		case '\n':
			return true
		default:
			return false
		}
	}
	return true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// firstJSONObject returns the first balanced {...} block, respecting string
// literals and escapes. Empty when none exists.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
