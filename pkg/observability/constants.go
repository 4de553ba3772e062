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

package observability

const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"
	AttrAgentName      = "agent.name"
	AttrNodeID         = "graph.node.id"
	AttrEdgeID         = "graph.edge.id"
	AttrToolName       = "tool.name"
	AttrToolAttempts   = "tool.attempts"
	AttrLLMProvider    = "llm.provider"
	AttrLLMModel       = "llm.model"
	AttrLLMTokensIn    = "llm.tokens.input"
	AttrLLMTokensOut   = "llm.tokens.output"
	AttrErrorType      = "error.type"

	SpanAgentInvoke    = "agent.invoke"
	SpanReactStep      = "agent.react_step"
	SpanLLMRequest     = "agent.llm_request"
	SpanToolExecution  = "agent.tool_execution"
	SpanNodeExecution  = "graph.node_execution"
	SpanEdgeEvaluation = "graph.edge_evaluation"

	DefaultServiceName = "vireo"
)
