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

package main

import (
	"context"
	"fmt"

	"github.com/vireo-ai/vireo/pkg/config"
	"github.com/vireo-ai/vireo/pkg/config/provider"
	"github.com/vireo-ai/vireo/pkg/graph"
)

// ValidateCmd checks a configuration file without running anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if err := config.LoadDotEnv(cli.EnvFile); err != nil {
		return err
	}

	fp, err := provider.NewFileProvider(cli.Config)
	if err != nil {
		return err
	}
	loader := config.NewLoader(fp)
	defer loader.Close()

	cfg, err := loader.Load(context.Background())
	if err != nil {
		return err
	}

	if cfg.Agent.Type == config.AgentGraph {
		result := graph.Validate(cfg.Agent.Graph.Nodes, cfg.Agent.Graph.Edges)
		for _, w := range result.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		if !result.Valid {
			for _, e := range result.Errors {
				fmt.Printf("error: %s\n", e)
			}
			return fmt.Errorf("%s: graph validation failed", cli.Config)
		}
	}

	fmt.Printf("%s: configuration valid (%s agent)\n", cli.Config, cfg.Agent.Type)
	return nil
}
