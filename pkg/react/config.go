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

const (
	// DefaultMaxSteps bounds the reason-act loop when no limit is
	// configured.
	DefaultMaxSteps = 5

	// DefaultSelfConsistencySamples is the rollout count when
	// self-consistency is enabled without an explicit sample size.
	DefaultSelfConsistencySamples = 3
)

// DefaultPromptTemplate is used when no template is configured. Placeholders
// {input}, {history} and {tools} are bound at invocation time.
const DefaultPromptTemplate = `You are a reasoning agent. Answer the question by thinking step by step.

You have access to the following tools:
{tools}

Use this format:

Thought: reason about what to do next
Action: the tool name
Action Input: the tool arguments as a JSON object
Observation: the tool result (provided to you)
... (Thought/Action/Action Input/Observation repeat as needed)
Thought: I now know the final answer
Final Answer: the answer to the original question

Conversation so far:
{history}

Question: {input}
`

// SelfConsistencyConfig controls majority-vote aggregation over independent
// rollouts.
type SelfConsistencyConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Samples int  `json:"samples,omitempty" yaml:"samples,omitempty"`
}

// Config is the chain-of-thought configuration of one agent.
type Config struct {
	// Enabled gates the multi-step loop. When false, MaxSteps is forced
	// to 1 and the agent performs a single LLM pass.
	Enabled bool `json:"enabled" yaml:"enabled"`

	MaxSteps       int    `json:"maxSteps,omitempty" yaml:"maxSteps,omitempty"`
	PromptTemplate string `json:"promptTemplate,omitempty" yaml:"promptTemplate,omitempty"`

	SelfConsistency SelfConsistencyConfig `json:"selfConsistency,omitempty" yaml:"selfConsistency,omitempty"`

	// StopSequences terminate LLM generation early; a hit ends the loop
	// with the partial final answer.
	StopSequences []string `json:"stopSequences,omitempty" yaml:"stopSequences,omitempty"`
}

// withDefaults fills unset fields and enforces the single-pass coercion for
// disabled chain of thought.
func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if !c.Enabled {
		c.MaxSteps = 1
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = DefaultPromptTemplate
	}
	if c.SelfConsistency.Enabled && c.SelfConsistency.Samples < 1 {
		c.SelfConsistency.Samples = DefaultSelfConsistencySamples
	}
	return c
}
