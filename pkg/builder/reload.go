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

package builder

import (
	"log/slog"

	"github.com/vireo-ai/vireo/pkg/config"
	"github.com/vireo-ai/vireo/pkg/graph"
)

// GraphReloader returns a config.Loader onChange callback that patches the
// agent's node/edge set from a reloaded document. Graph agents accept
// patches only while paused; reloads at any other time are skipped with a
// warning.
func GraphReloader(agent *graph.Agent) func(*config.Config) {
	return func(cfg *config.Config) {
		patch := graph.GraphPatch{
			Nodes: cfg.Agent.Graph.Nodes,
			Edges: cfg.Agent.Graph.Edges,
		}
		if err := agent.UpdateGraphConfiguration(patch); err != nil {
			slog.Warn("config reload not applied", "error", err)
			return
		}
		slog.Info("graph configuration reloaded",
			"nodes", len(patch.Nodes),
			"edges", len(patch.Edges))
	}
}
