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
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vireo-ai/vireo/pkg/builder"
	"github.com/vireo-ai/vireo/pkg/config"
	"github.com/vireo-ai/vireo/pkg/config/provider"
	"github.com/vireo-ai/vireo/pkg/graph"
	"github.com/vireo-ai/vireo/pkg/logger"
	"github.com/vireo-ai/vireo/pkg/observability"
)

// RunCmd executes the configured agent once with the given input.
type RunCmd struct {
	Input []string `arg:"" optional:"" help:"Input passed to the agent."`

	Stream bool `help:"Stream output chunks as they arrive." default:"true" negatable:""`
	Watch  bool `help:"Reload graph configuration on file changes (applied while paused)."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(cli.EnvFile); err != nil {
		return err
	}

	fp, err := provider.NewFileProvider(cli.Config)
	if err != nil {
		return err
	}
	loader := config.NewLoader(fp)
	defer loader.Close()

	cfg, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	applyLogOverrides(cli, cfg)

	logCloser, err := logger.Init(cfg.Logging)
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	if cfg.Server.MetricsAddr != "" {
		if err := initObservability(ctx, cfg); err != nil {
			return err
		}
	}

	agent, err := builder.New(cfg).Build()
	if err != nil {
		return err
	}

	if c.Watch {
		if ga, ok := agent.(*graph.Agent); ok {
			watcher := config.NewLoader(fp, config.WithOnChange(builder.GraphReloader(ga)))
			go func() {
				if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
					slog.Error("config watch stopped", "error", err)
				}
			}()
		} else {
			slog.Warn("--watch only applies to graph agents; ignoring")
		}
	}

	input := strings.Join(c.Input, " ")
	if input == "" {
		return fmt.Errorf("no input given")
	}

	if c.Stream {
		chunks, err := agent.Stream(ctx, input)
		if err != nil {
			return err
		}
		for chunk := range chunks {
			fmt.Print(chunk)
		}
		fmt.Println()
		return ctx.Err()
	}

	out, err := agent.Invoke(ctx, input)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

// applyLogOverrides lets command-line flags win over the config file.
func applyLogOverrides(cli *CLI, cfg *config.Config) {
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = logger.Format(cli.LogFormat)
	}
	if cli.LogFile != "" {
		cfg.Logging.File = cli.LogFile
	}
}

// initObservability wires tracing and Prometheus metrics and serves the
// /metrics endpoint on cfg.Server.MetricsAddr.
func initObservability(ctx context.Context, cfg *config.Config) error {
	if _, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:     true,
		ServiceName: cfg.Name,
	}); err != nil {
		return fmt.Errorf("failed to init tracer: %w", err)
	}

	metrics, err := observability.InitMetrics(ctx, observability.MetricsConfig{Enabled: true})
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	observability.SetGlobalMetrics(metrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}

	go func() {
		slog.Info("serving metrics", "addr", cfg.Server.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return nil
}
