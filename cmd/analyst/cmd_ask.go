// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/signalk-analyst/services/analyst"
	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
	"github.com/AleutianAI/signalk-analyst/services/analyst/observability"
)

func newServeCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := state.cfg

			shutdown, err := observability.InitTracer(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
			if err != nil {
				return fmt.Errorf("failed to setup the OTLP tracer: %w", err)
			}
			defer flushTracer(shutdown, tracerFlushTimeout)

			svc, err := analyst.New(ctx, cfg, analyst.WithServiceLogger(state.logger.Slog()))
			if err != nil {
				return err
			}
			defer svc.Close()
			return svc.Serve(ctx)
		},
	}
}

// tracerFlushTimeout bounds the export of buffered spans on exit.
const tracerFlushTimeout = 5 * time.Second

// flushTracer runs shutdown on a fresh context. The command context is
// already cancelled once serve returns after a signal.
func flushTracer(shutdown observability.ShutdownFunc, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	shutdown(ctx)
}

type askOptions struct {
	sampled    bool
	paths      []string
	vessel     string
	since      time.Duration
	maxSamples int
}

func newAskCmd(state *cliState) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the vessel's history",
		Long: `Ask runs one analysis. Without --server it builds the agent in-process from
the configuration; with --server it calls the running API.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := datatypes.AnalysisRequest{
				Question:   strings.Join(args, " "),
				Context:    opts.vessel,
				Paths:      opts.paths,
				MaxSamples: opts.maxSamples,
			}
			if opts.since > 0 {
				end := time.Now().UTC()
				req.TimeRange = &datatypes.TimeRange{Start: end.Add(-opts.since), End: end}
			}

			resp, err := state.ask(cmd, req, opts.sampled)
			if err != nil {
				return err
			}
			return state.printAnswer(resp)
		},
	}
	cmd.Flags().BoolVar(&opts.sampled, "sampled", false, "answer from a statistical summary and sample instead of the tool loop")
	cmd.Flags().StringSliceVarP(&opts.paths, "paths", "p", nil, "Signal K paths the question is about")
	cmd.Flags().StringVar(&opts.vessel, "context", "", "Signal K context (default vessels.self)")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "restrict the data to this long before now, e.g. 24h")
	cmd.Flags().IntVar(&opts.maxSamples, "max-samples", 0, "sample size for --sampled")
	return cmd
}

func (s *cliState) ask(cmd *cobra.Command, req datatypes.AnalysisRequest, sampled bool) (*datatypes.AnalysisResponse, error) {
	ctx := cmd.Context()
	if s.serverURL != "" {
		api := newAPIClient(s.server())
		if sampled {
			return api.AnalyzeSampled(ctx, req)
		}
		return api.Analyze(ctx, req)
	}

	svc, err := analyst.New(ctx, s.cfg, analyst.WithServiceLogger(s.logger.Slog()))
	if err != nil {
		return nil, err
	}
	defer svc.Close()
	if sampled {
		return svc.Orchestrator.RunSampled(ctx, req)
	}
	return svc.Orchestrator.Run(ctx, req)
}

func newFollowUpCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "followup [conversation-id] [question]",
		Short: "Continue a conversation held by a running server",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newAPIClient(state.server()).FollowUp(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return state.printAnswer(resp)
		},
	}
}

func (s *cliState) printAnswer(resp *datatypes.AnalysisResponse) error {
	if s.jsonOutput {
		return s.printJSON(resp)
	}
	s.printer().Answer(resp)
	return nil
}

func (s *cliState) printJSON(v any) error {
	enc := json.NewEncoder(s.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
