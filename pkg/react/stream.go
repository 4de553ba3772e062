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
	"context"
	"fmt"
	"strings"

	"github.com/vireo-ai/vireo/pkg/protocol"
)

// Stream runs the loop while forwarding output incrementally. Thought text
// streams as the model produces it; structural sections (Action, Action
// Input) are withheld and replaced by observation lines; the final answer
// is emitted as the last chunk. The channel closes when the loop ends.
//
// With self-consistency enabled the rollouts cannot be interleaved, so the
// aggregated answer is emitted as a single chunk.
func (a *Agent) Stream(ctx context.Context, input string, history []protocol.Message, opts InvokeOptions) (<-chan string, error) {
	out := make(chan string, 64)

	emit := func(chunk string) {
		if chunk == "" {
			return
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(out)

		if a.cfg.SelfConsistency.Enabled {
			answer, err := a.invokeSelfConsistent(ctx, input, history, opts)
			if err != nil {
				emit(fmt.Sprintf("\nError: %v\n", err))
				return
			}
			emit(answer)
			return
		}

		answer, _, err := a.rollout(ctx, input, history, opts, emit)
		if err != nil {
			emit(fmt.Sprintf("\nError: %v\n", err))
			return
		}
		emit(answer)
	}()

	return out, nil
}

// maxMarkerLen is the hold-back window: a marker could arrive split across
// chunks, so this many trailing bytes are never forwarded until more text
// arrives or generation ends.
var maxMarkerLen = len(markerFinalAnswer)

// chunkGate forwards streamed LLM text up to the first structural marker
// (Action or Final Answer) and swallows the rest of the generation.
type chunkGate struct {
	buf     strings.Builder
	emitted int
	halted  bool
	out     func(string)
}

func newChunkGate(out func(string)) *chunkGate {
	return &chunkGate{out: out}
}

func (g *chunkGate) feed(chunk string) {
	g.buf.WriteString(chunk)
	if g.halted {
		return
	}

	s := g.buf.String()
	stop := len(s)
	for _, marker := range []string{markerAction, markerFinalAnswer} {
		if i := indexOfMarker(s, marker); i >= 0 && i < stop {
			stop = i
		}
	}

	if stop < len(s) {
		g.forward(s, stop)
		g.halted = true
		return
	}

	// Keep a tail that could still turn out to be a marker prefix.
	if safe := len(s) - maxMarkerLen; safe > g.emitted {
		g.forward(s, safe)
	}
}

// finish flushes held-back text once generation is over and no marker
// materialized.
func (g *chunkGate) finish() {
	if g.halted {
		return
	}
	s := g.buf.String()
	stop := len(s)
	for _, marker := range []string{markerAction, markerFinalAnswer} {
		if i := indexOfMarker(s, marker); i >= 0 && i < stop {
			stop = i
		}
	}
	g.forward(s, stop)
}

func (g *chunkGate) forward(s string, until int) {
	if until > g.emitted {
		g.out(s[g.emitted:until])
		g.emitted = until
	}
}
